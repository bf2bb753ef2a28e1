// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// DefaultTimeout bounds a single request to the provider's token endpoint.
const DefaultTimeout = 10 * time.Second

const (
	tokenPath      = "/protocol/openid-connect/token"
	endSessionPath = "/protocol/openid-connect/logout"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration needed to keep a session's tokens
// fresh with a provider.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.  For Keycloak this is the realm's
	// URL (https://host/realms/<realm>).
	Issuer string

	// TokenURL is an optional token endpoint.  When empty the endpoint is
	// derived from the Issuer (<issuer>/protocol/openid-connect/token)
	TokenURL string

	// EndSessionURL is an optional end session (logout) endpoint.  When
	// empty the endpoint is derived from the Issuer
	// (<issuer>/protocol/openid-connect/logout)
	EndSessionURL string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// Timeout bounds every request sent to the token endpoint.  A request
	// that times out is a failed refresh.
	Timeout time.Duration
}

// NewConfig composes a new config for a provider.
// Supported options:
//
//	WithTokenURL
//	WithEndSessionURL
//	WithProviderCA
//	WithTimeout
func NewConfig(issuer string, clientId string, clientSecret ClientSecret, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:        issuer,
		ClientId:      clientId,
		ClientSecret:  clientSecret,
		TokenURL:      opts.withTokenURL,
		EndSessionURL: opts.withEndSessionURL,
		ProviderCA:    opts.withProviderCA,
		Timeout:       opts.withTimeout,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is reachable via
// an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateURL(c.Issuer); err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if c.TokenURL != "" {
		if err := validateURL(c.TokenURL); err != nil {
			return fmt.Errorf("%s: token URL %s is invalid: %w", op, c.TokenURL, err)
		}
	}
	if c.EndSessionURL != "" {
		if err := validateURL(c.EndSessionURL); err != nil {
			return fmt.Errorf("%s: end session URL %s is invalid: %w", op, c.EndSessionURL, err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s: timeout is negative: %w", op, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidParameter)
	}
	if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("schema is not http or https: %w", ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrInvalidParameter)
	}
	return nil
}

// TokenEndpoint returns the provider's token endpoint.
func (c *Config) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return strings.TrimSuffix(c.Issuer, "/") + tokenPath
}

// EndSessionEndpoint returns the provider's end session (logout) endpoint.
func (c *Config) EndSessionEndpoint() string {
	if c.EndSessionURL != "" {
		return c.EndSessionURL
	}
	return strings.TrimSuffix(c.Issuer, "/") + endSessionPath
}

// HttpClient is a helper function that creates a new http client for the
// provider configured.  It uses the optional ProviderCA when provided,
// otherwise the system CA chain.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withTokenURL      string
	withEndSessionURL string
	withProviderCA    string
	withTimeout       time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withTimeout: DefaultTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTokenURL provides an optional token endpoint for the provider's config
func WithTokenURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTokenURL = u
		}
	}
}

// WithEndSessionURL provides an optional end session endpoint for the
// provider's config
func WithEndSessionURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEndSessionURL = u
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithTimeout provides an optional token endpoint request timeout for the
// provider's config
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}
