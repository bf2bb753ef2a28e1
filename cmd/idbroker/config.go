// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/idbroker/authz"
	"github.com/hashicorp/idbroker/keyset"
	"github.com/hashicorp/idbroker/oidc"
)

// Config keys.  Each can also be set with its IDBROKER_ prefixed, upper case
// environment variable.
const (
	keyIssuer         = "issuer"
	keyClientId       = "client_id"
	keyClientSecret   = "client_secret"
	keyTokenURL       = "token_url"
	keyEndSessionURL  = "end_session_url"
	keyProviderCA     = "provider_ca"
	keyProviderCAFile = "provider_ca_file"
	keyTimeout        = "timeout"
	keyRulesFile      = "rules_file"
	keyRefreshToken   = "refresh_token"
)

func (c *cli) providerCA() (string, error) {
	const op = "cli.providerCA"
	if pem := c.v.GetString(keyProviderCA); pem != "" {
		return pem, nil
	}
	f := c.v.GetString(keyProviderCAFile)
	if f == "" {
		return "", nil
	}
	pem, err := os.ReadFile(f)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read %s: %w", op, f, err)
	}
	return string(pem), nil
}

func (c *cli) oidcConfig() (*oidc.Config, error) {
	const op = "cli.oidcConfig"
	ca, err := c.providerCA()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{oidc.WithProviderCA(ca)}
	if u := c.v.GetString(keyTokenURL); u != "" {
		opts = append(opts, oidc.WithTokenURL(u))
	}
	if u := c.v.GetString(keyEndSessionURL); u != "" {
		opts = append(opts, oidc.WithEndSessionURL(u))
	}
	if d := c.v.GetDuration(keyTimeout); d != 0 {
		opts = append(opts, oidc.WithTimeout(d))
	}
	cfg, err := oidc.NewConfig(
		c.v.GetString(keyIssuer),
		c.v.GetString(keyClientId),
		oidc.ClientSecret(c.v.GetString(keyClientSecret)),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// keySet returns the issuer's Keycloak certs endpoint key set.
func (c *cli) keySet(ctx context.Context) (keyset.KeySet, error) {
	const op = "cli.keySet"
	issuer := c.v.GetString(keyIssuer)
	if issuer == "" {
		return nil, fmt.Errorf("%s: %s is required to verify signatures", op, keyIssuer)
	}
	ca, err := c.providerCA()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ks, err := keyset.NewKeycloakKeySet(ctx, issuer, ca)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// engine loads the rules file given as an argument or configured with
// rules_file.
func (c *cli) engine(file string) (*authz.Engine, error) {
	const op = "cli.engine"
	cfg, err := c.loadRules(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e, err := authz.NewEngine(cfg, authz.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (c *cli) loadRules(file string) (*authz.Config, error) {
	const op = "cli.loadRules"
	if file == "" {
		file = c.v.GetString(keyRulesFile)
	}
	if file == "" {
		return nil, fmt.Errorf("%s: no rules file given", op)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()
	cfg, err := authz.LoadConfig(f, authz.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, file, err)
	}
	return cfg, nil
}
