// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Provider exchanges refresh tokens with the provider's token endpoint.
// A Provider makes no requests until Refresh is called and it is safe for
// concurrent use.
type Provider struct {
	config *Config
	client *http.Client
	logger hclog.Logger
	now    func() time.Time
}

// NewProvider creates a Provider for the config.  It doesn't make any http
// requests to the provider.
//
// Supported options: WithLogger, WithNow
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	opts := getProviderOpts(opt...)
	return &Provider{
		config: c,
		client: client,
		logger: opts.withLogger,
		now:    opts.withNow,
	}, nil
}

// Config returns the provider's config.
func (p *Provider) Config() *Config {
	return p.config
}

// Refresh exchanges the refresh token for a new TokenSet using the
// refresh_token grant.  The request is bounded by the config's Timeout.
//
// When the response omits a refresh_token the rt passed in is carried
// forward.  The returned TokenSet's IdToken is empty when the response omits
// an id_token, and callers decide whether to keep the prior one.
//
// Every failure (transport, timeout, non-2xx status, missing access_token)
// wraps ErrRefreshFailed.
func (p *Provider) Refresh(ctx context.Context, rt RefreshToken) (*TokenSet, error) {
	const op = "Provider.Refresh"
	if rt == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	timeout := p.config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientId,
		ClientSecret: string(p.config.ClientSecret),
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.config.TokenEndpoint(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	issuedAt := p.now()
	// an empty access_token forces the token source to exchange rt
	tk, err := oauth2Config.TokenSource(HttpClientContext(ctx, p.client), &oauth2.Token{RefreshToken: string(rt)}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		switch {
		case errors.As(err, &re):
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			p.logger.Warn("token refresh rejected by provider", "op", op, "status", status, "error_code", re.ErrorCode)
		case errors.Is(err, context.DeadlineExceeded):
			p.logger.Warn("token refresh timed out", "op", op, "timeout", timeout)
		default:
			p.logger.Warn("token refresh failed", "op", op, "error", err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}
	if tk.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, ErrMissingAccessToken)
	}

	ts := &TokenSet{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = rt
	}
	if idToken, ok := tk.Extra("id_token").(string); ok {
		ts.IdToken = IdToken(idToken)
	}
	ts.Expiry = ExpiryFrom(issuedAt, expiresIn(tk.Extra("expires_in")), ts.AccessToken)
	p.logger.Debug("token refresh succeeded", "op", op, "expiry", ts.Expiry)
	return ts, nil
}

// EndSessionURL returns the provider's end session URL carrying the
// id_token_hint and, when provided, the post logout redirect.
func (p *Provider) EndSessionURL(idTokenHint IdToken, postLogoutRedirect string) (string, error) {
	const op = "Provider.EndSessionURL"
	u, err := url.Parse(p.config.EndSessionEndpoint())
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse end session endpoint: %w", op, err)
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
		q.Set("client_id", p.config.ClientId)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// expiresIn converts the raw expires_in token response value, which may be
// decoded as a number or a string depending on the provider.
func expiresIn(v interface{}) time.Duration {
	var secs int64
	switch e := v.(type) {
	case float64:
		secs = int64(e)
	case int64:
		secs = e
	case int:
		secs = int64(e)
	case json.Number:
		secs, _ = e.Int64()
	case string:
		secs, _ = strconv.ParseInt(e, 10, 64)
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// providerOptions is the set of available options for a Provider
type providerOptions struct {
	withLogger hclog.Logger
	withNow    func() time.Time
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
