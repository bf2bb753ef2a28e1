// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/hashicorp/idbroker/claims"
	"github.com/spf13/cobra"
)

func (c *cli) decodeCmd() *cobra.Command {
	var claimPath string
	var verify bool
	cmd := &cobra.Command{
		Use:   "decode [token|-]",
		Short: "Print the claims of a JWT",
		Long: `Print the claims of a JWT read from the argument or stdin.

The signature isn't checked unless --verify is set, in which case it's
verified with the keys of the configured issuer's certs endpoint.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			var set claims.Set
			if verify {
				ks, err := c.keySet(cmd.Context())
				if err != nil {
					return err
				}
				if set, err = ks.VerifySignature(cmd.Context(), tk); err != nil {
					return err
				}
			} else if set, err = claims.Decode(tk); err != nil {
				return err
			}
			if claimPath == "" {
				return printJSON(cmd.OutOrStdout(), set)
			}
			v, ok := set.Lookup(claimPath)
			if !ok {
				return fmt.Errorf("claim %q not found", claimPath)
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&claimPath, "claim", "", "dotted path of a single claim to print, e.g. realm_access.roles")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the signature with the issuer's keys")
	return cmd
}
