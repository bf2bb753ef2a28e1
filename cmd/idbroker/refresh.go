// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"time"

	"github.com/hashicorp/idbroker/claims"
	"github.com/hashicorp/idbroker/oidc"
	"github.com/hashicorp/idbroker/session"
	"github.com/spf13/cobra"
)

type refreshResult struct {
	Expiry       time.Time          `json:"expiry"`
	Rotated      bool               `json:"refresh_token_rotated"`
	Principal    *session.Principal `json:"principal"`
	AccessToken  string             `json:"access_token,omitempty"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	IdToken      string             `json:"id_token,omitempty"`
	LogoutURL    string             `json:"logout_url,omitempty"`
}

func (c *cli) refreshCmd() *cobra.Command {
	var (
		verify         bool
		showTokens     bool
		logoutRedirect string
	)
	cmd := &cobra.Command{
		Use:   "refresh [refresh_token|-]",
		Short: "Exchange a refresh token at the provider's token endpoint",
		Long: `Exchange a refresh token at the provider's token endpoint and print the
new expiry and the principal derived from the returned tokens.

The refresh token is read from the argument, the refresh_token setting or
stdin.  The provider is configured with issuer, client_id, client_secret and
optionally token_url, provider_ca_file and timeout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.oidcConfig()
			if err != nil {
				return err
			}
			p, err := oidc.NewProvider(cfg, oidc.WithLogger(c.logger))
			if err != nil {
				return err
			}

			rt := c.v.GetString(keyRefreshToken)
			if len(args) > 0 || rt == "" {
				if rt, err = readToken(cmd, args); err != nil {
					return err
				}
			}
			ts, err := p.Refresh(ctx, oidc.RefreshToken(rt))
			if err != nil {
				return err
			}

			var idClaims claims.Set
			if ts.IdToken != "" {
				if verify {
					ks, err := c.keySet(ctx)
					if err != nil {
						return err
					}
					if idClaims, err = ks.VerifySignature(ctx, string(ts.IdToken)); err != nil {
						return err
					}
				} else if idClaims, err = ts.IdToken.ClaimSet(); err != nil {
					return err
				}
			}
			accessClaims, err := ts.AccessToken.Claims()
			if err != nil {
				return err
			}

			res := refreshResult{
				Expiry:    ts.Expiry.UTC(),
				Rotated:   string(ts.RefreshToken) != rt,
				Principal: session.NewPrincipal(cfg.ClientId, idClaims, accessClaims),
			}
			if showTokens {
				res.AccessToken = string(ts.AccessToken)
				res.RefreshToken = string(ts.RefreshToken)
				res.IdToken = string(ts.IdToken)
			}
			if logoutRedirect != "" {
				if res.LogoutURL, err = p.EndSessionURL(ts.IdToken, logoutRedirect); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the returned id_token with the issuer's keys")
	cmd.Flags().BoolVar(&showTokens, "show-tokens", false, "include the returned tokens in the output")
	cmd.Flags().StringVar(&logoutRedirect, "logout-redirect", "", "also print the end session url redirecting here")
	return cmd
}
