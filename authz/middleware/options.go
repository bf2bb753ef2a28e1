// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultCookieName is the cookie holding the session id.
	DefaultCookieName = "idbroker_session"

	// DefaultLoginURL is where requests without a usable session are sent.
	DefaultLoginURL = "/login"

	// ReturnToParam is the login url query parameter holding the request
	// uri to return to after signing in.
	ReturnToParam = "return_to"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type options struct {
	withCookieName string
	withLoginURL   string
	withLogger     hclog.Logger
}

func getOpts(opt ...Option) options {
	opts := options{
		withCookieName: DefaultCookieName,
		withLoginURL:   DefaultLoginURL,
	}
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithLoginURL provides an optional login url.  It may be relative.
func WithLoginURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && u != "" {
			o.withLoginURL = u
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogger = l
		}
	}
}
