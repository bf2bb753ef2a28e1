// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/idbroker/keyset"
	"github.com/hashicorp/idbroker/oidc"
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

// managerOptions is the set of available options for a Manager
type managerOptions struct {
	withLogger     hclog.Logger
	withNow        func() time.Time
	withExpirySkew time.Duration
	withTimeout    time.Duration
	withKeySet     keyset.KeySet
	withRoleSync   RoleSyncer
}

func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:  hclog.NewNullLogger(),
		withNow:     time.Now,
		withTimeout: oidc.DefaultTimeout,
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// storageOptions is the set of available options for a Storage
type storageOptions struct {
	withKeyPrefix string
}

func storageDefaults() storageOptions {
	return storageOptions{
		withKeyPrefix: DefaultRedisKeyPrefix,
	}
}

func getStorageOpts(opt ...Option) storageOptions {
	opts := storageDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional "now" func for: Manager
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithExpirySkew provides an optional skew for: Manager.  A token is
// refreshed skew before it expires, for example oidc.DefaultTokenExpirySkew.
// It defaults to zero: a token is valid until its expiry.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withExpirySkew = d
		}
	}
}

// WithTimeout provides an optional bound on a refresh exchange for: Manager
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithKeySet provides an optional KeySet for: Manager.  When provided,
// SignIn verifies the id_token signature.
func WithKeySet(ks keyset.KeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withKeySet = ks
		}
	}
}

// WithRoleSync provides an optional RoleSyncer for: Manager.  It is called
// with the session's claims after every sign in and refresh.
func WithRoleSync(s RoleSyncer) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withRoleSync = s
		}
	}
}

// WithKeyPrefix provides an optional key prefix for: RedisStorage
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storageOptions); ok {
			o.withKeyPrefix = prefix
		}
	}
}
