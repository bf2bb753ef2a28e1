// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/hashicorp/idbroker/oidc"
	"github.com/hashicorp/idbroker/session"
)

// SessionReader reads sessions.  It's satisfied by *session.Manager.
type SessionReader interface {
	AccessToken(ctx context.Context, sessionId string) (oidc.AccessToken, error)
	Principal(ctx context.Context, sessionId string) (*session.Principal, error)
}

var _ SessionReader = (*session.Manager)(nil)

type ctxKey int

const (
	principalKey ctxKey = iota
	accessTokenKey
)

// PrincipalFromContext returns the principal stored by RequireSession.
func PrincipalFromContext(ctx context.Context) (*session.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*session.Principal)
	return p, ok && p != nil
}

// AccessTokenFromContext returns the access_token stored by RequireSession.
func AccessTokenFromContext(ctx context.Context) (oidc.AccessToken, bool) {
	at, ok := ctx.Value(accessTokenKey).(oidc.AccessToken)
	return at, ok && at != ""
}

// RequireSession returns middleware that resolves the session cookie to an
// access token (refreshing it when it's expired) and a principal, and stores
// both in the request's context.
//
// Requests without a session, or whose session couldn't be refreshed, are
// redirected to the login url with a return_to parameter, and the cookie is
// cleared.  Any other error is a 500.
//
// Supported options: WithCookieName, WithLoginURL, WithLogger
func RequireSession(s SessionReader, opt ...Option) func(http.Handler) http.Handler {
	opts := getOpts(opt...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			const op = "middleware.RequireSession"
			if s == nil {
				opts.withLogger.Error("session reader is nil", "op", op)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			c, err := req.Cookie(opts.withCookieName)
			if err != nil || c.Value == "" {
				redirectToLogin(w, req, opts, false)
				return
			}
			ctx := req.Context()
			at, err := s.AccessToken(ctx, c.Value)
			if err == nil {
				var p *session.Principal
				if p, err = s.Principal(ctx, c.Value); err == nil {
					ctx = context.WithValue(ctx, accessTokenKey, at)
					ctx = context.WithValue(ctx, principalKey, p)
					next.ServeHTTP(w, req.WithContext(ctx))
					return
				}
			}
			switch {
			case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSessionTerminated):
				opts.withLogger.Debug("no usable session", "op", op, "error", err)
				redirectToLogin(w, req, opts, true)
			case errors.Is(err, session.ErrRefreshInProgress):
				// the client went away
				opts.withLogger.Debug("request ended during refresh", "op", op)
				w.WriteHeader(http.StatusServiceUnavailable)
			default:
				opts.withLogger.Error("unable to read session", "op", op, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})
	}
}

// RequireRealmRole returns middleware that only allows principals with the
// realm role.  It must run after RequireSession.
func RequireRealmRole(role string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p *session.Principal) bool { return p.HasRealmRole(role) })
}

// RequireClientRole returns middleware that only allows principals with the
// client role.  It must run after RequireSession.
func RequireClientRole(role string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p *session.Principal) bool { return p.HasClientRole(role) })
}

func requirePrincipal(allowed func(*session.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p, ok := PrincipalFromContext(req.Context())
			if !ok || !allowed(p) {
				// don't say which role was missing
				http.Error(w, "access denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func redirectToLogin(w http.ResponseWriter, req *http.Request, opts options, clearCookie bool) {
	if clearCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     opts.withCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
	target := opts.withLoginURL
	if u, err := url.Parse(opts.withLoginURL); err == nil {
		q := u.Query()
		q.Set(ReturnToParam, req.URL.RequestURI())
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, req, target, http.StatusFound)
}
