// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"
)

// DefaultTokenExpirySkew is the skew used when checking a TokenSet's
// expiration, so a token is renewed shortly before the provider would reject
// it.
const DefaultTokenExpirySkew = 30 * time.Second

// DefaultTokenLifetime is used to derive an expiry when the provider reports
// neither expires_in nor an "exp" claim in the access_token.
const DefaultTokenLifetime = 5 * time.Minute

// TokenSet represents the tokens issued to one authenticated principal.
// Expiry is always derived from the most recently issued access_token.
type TokenSet struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IdToken      IdToken
	Expiry       time.Time
}

// IsAbsent returns true when there is no access_token. An absent TokenSet is
// never considered expired.
func (t *TokenSet) IsAbsent() bool {
	return t == nil || t.AccessToken == ""
}

// Expired returns true if the access_token has expired. A zero Expiry never
// expires. Supports the WithExpirySkew and WithNow options; if no skew is
// provided DefaultTokenExpirySkew is used.
func (t *TokenSet) Expired(opt ...Option) bool {
	if t.IsAbsent() {
		return false
	}
	if t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return !opts.withNow.Add(opts.withExpirySkew).Before(t.Expiry.Round(0))
}

// Valid returns true if the TokenSet has an access_token that has not
// expired. Supports the same options as Expired.
func (t *TokenSet) Valid(opt ...Option) bool {
	if t.IsAbsent() {
		return false
	}
	return !t.Expired(opt...)
}

// ExpiryFrom derives the access_token expiry. expiresIn (seconds) is
// preferred, then the access_token's "exp" claim, then DefaultTokenLifetime.
func ExpiryFrom(now time.Time, expiresIn time.Duration, at AccessToken) time.Time {
	if expiresIn > 0 {
		return now.Add(expiresIn)
	}
	if at != "" {
		if c, err := at.Claims(); err == nil {
			if exp := c.Expiry(); !exp.IsZero() {
				return exp
			}
		}
	}
	return now.Add(DefaultTokenLifetime)
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNow        time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNow.IsZero() {
		opts.withNow = time.Now()
	}
	return opts
}
