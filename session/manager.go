// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/idbroker/claims"
	"github.com/hashicorp/idbroker/keyset"
	"github.com/hashicorp/idbroker/oidc"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh token for a new TokenSet.  *oidc.Provider is
// a Refresher.
type Refresher interface {
	Refresh(ctx context.Context, rt oidc.RefreshToken) (*oidc.TokenSet, error)
}

// RoleSyncer receives a session's claims after every sign in and refresh, for
// example to reconcile local role grants.
type RoleSyncer interface {
	SyncRoles(ctx context.Context, subject string, c claims.Set) error
}

var _ Refresher = (*oidc.Provider)(nil)

// Manager manages the token lifecycle of sessions kept in a Storage.  It is
// safe for concurrent use; refreshes are serialized per session id.
type Manager struct {
	clientId  string
	refresher Refresher
	storage   Storage

	logger   hclog.Logger
	now      func() time.Time
	skew     time.Duration
	timeout  time.Duration
	keySet   keyset.KeySet
	roleSync RoleSyncer

	flights  singleflight.Group
	inflight sync.Map
	// locks serializes SignIn, SignOut and the commit of a refresh
	locks sessionLocks
}

// NewManager creates a Manager.  The clientId selects the client roles
// (resource_access.<clientId>.roles) of a session's Principal.
//
// Supported options: WithLogger, WithNow, WithExpirySkew, WithTimeout,
// WithKeySet, WithRoleSync
func NewManager(clientId string, r Refresher, s Storage, opt ...Option) (*Manager, error) {
	const op = "NewManager"
	if clientId == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: refresher is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withExpirySkew < 0 {
		return nil, fmt.Errorf("%s: expiry skew is negative: %w", op, ErrInvalidParameter)
	}
	if opts.withTimeout <= 0 {
		return nil, fmt.Errorf("%s: timeout must be positive: %w", op, ErrInvalidParameter)
	}
	return &Manager{
		clientId:  clientId,
		refresher: r,
		storage:   s,
		logger:    opts.withLogger,
		now:       opts.withNow,
		skew:      opts.withExpirySkew,
		timeout:   opts.withTimeout,
		keySet:    opts.withKeySet,
		roleSync:  opts.withRoleSync,
	}, nil
}

// NewSessionId generates a new random session id.
func NewSessionId() (string, error) {
	const op = "NewSessionId"
	id, err := oidc.NewId("sess")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// SignIn stores the tokens issued by the provider's authentication flow for
// the session, replacing whatever the session held.  The tokens are decoded
// and the session's Principal is derived from them.  If the Manager has a
// KeySet, the id_token signature is verified first.
func (m *Manager) SignIn(ctx context.Context, sessionId string, ts *oidc.TokenSet) (*Principal, error) {
	const op = "Manager.SignIn"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if ts == nil {
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	if ts.IsAbsent() {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, oidc.ErrMissingAccessToken)
	}
	tokens := *ts
	if err := m.verify(ctx, tokens.IdToken); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens.Expiry.IsZero() {
		tokens.Expiry = oidc.ExpiryFrom(m.now(), 0, tokens.AccessToken)
	}
	p, c, err := m.derive(&tokens)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	unlock := m.locks.lock(sessionId)
	err = m.store(ctx, sessionId, &record{tokens: tokens, principal: *p})
	unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("session signed in", "session_id", sessionId, "subject", p.Subject, "expiry", tokens.Expiry)
	m.syncRoles(ctx, sessionId, p.Subject, c)
	return p, nil
}

// AccessToken returns the session's access_token.  A valid token is returned
// as is.  An expired token is refreshed first; concurrent callers for the
// same session share one refresh.
//
// Errors: ErrNoSession when the session is absent or failed,
// ErrSessionTerminated when this call's refresh failed and
// ErrRefreshInProgress when ctx ends before the in-flight refresh completes.
func (m *Manager) AccessToken(ctx context.Context, sessionId string) (oidc.AccessToken, error) {
	const op = "Manager.AccessToken"
	r, err := m.load(ctx, sessionId)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if r == nil || r.failed || r.tokens.IsAbsent() {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if !m.expired(&r.tokens) {
		return r.tokens.AccessToken, nil
	}

	ch := m.flights.DoChan(sessionId, func() (interface{}, error) {
		m.inflight.Store(sessionId, struct{}{})
		defer m.inflight.Delete(sessionId)
		// the exchange outlives a cancelled caller so the provider's
		// rotated refresh token is never lost
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.refresh(refreshCtx, sessionId)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Val.(oidc.AccessToken), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w: %w", op, ErrRefreshInProgress, ctx.Err())
	}
}

// refresh runs inside the session's flight.
func (m *Manager) refresh(ctx context.Context, sessionId string) (oidc.AccessToken, error) {
	const op = "Manager.refresh"
	r, err := m.load(ctx, sessionId)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if r == nil || r.failed || r.tokens.IsAbsent() {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	// a flight that finished just before this one started already refreshed
	if !m.expired(&r.tokens) {
		return r.tokens.AccessToken, nil
	}
	from := r.tokens
	if from.RefreshToken == "" {
		return m.fail(ctx, sessionId, op, &from, oidc.ErrMissingRefreshToken)
	}

	ts, err := m.refresher.Refresh(ctx, from.RefreshToken)
	if err != nil {
		return m.fail(ctx, sessionId, op, &from, err)
	}
	if ts == nil || ts.IsAbsent() {
		return m.fail(ctx, sessionId, op, &from, fmt.Errorf("%w: %w", oidc.ErrRefreshFailed, oidc.ErrMissingAccessToken))
	}
	tokens := *ts
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = from.RefreshToken
	}
	if tokens.IdToken == "" {
		tokens.IdToken = r.tokens.IdToken
	} else if err := m.verify(ctx, tokens.IdToken); err != nil {
		return m.fail(ctx, sessionId, op, &from, err)
	}
	if tokens.Expiry.IsZero() {
		tokens.Expiry = oidc.ExpiryFrom(m.now(), 0, tokens.AccessToken)
	}
	p, c, err := m.derive(&tokens)
	if err != nil {
		return m.fail(ctx, sessionId, op, &from, err)
	}
	cur, stored, err := m.commit(ctx, sessionId, &from, &record{tokens: tokens, principal: *p})
	switch {
	case err != nil:
		// the provider may have rotated the refresh token, so the stored one
		// can't be trusted anymore
		return m.fail(ctx, sessionId, op, &from, err)
	case !stored:
		m.logger.Debug("session changed during refresh, discarding result", "session_id", sessionId)
		return m.current(op, cur)
	}
	m.logger.Debug("session refreshed", "session_id", sessionId, "expiry", tokens.Expiry)
	m.syncRoles(ctx, sessionId, p.Subject, c)
	return tokens.AccessToken, nil
}

// commit stores r only if the session still holds the tokens the refresh
// started from.  A session signed out or signed in again meanwhile is left
// alone and returned as cur.
func (m *Manager) commit(ctx context.Context, sessionId string, from *oidc.TokenSet, r *record) (cur *record, stored bool, err error) {
	const op = "Manager.commit"
	unlock := m.locks.lock(sessionId)
	defer unlock()
	cur, err = m.load(ctx, sessionId)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if cur == nil || cur.failed ||
		cur.tokens.RefreshToken != from.RefreshToken ||
		cur.tokens.AccessToken != from.AccessToken {
		return cur, false, nil
	}
	if err := m.store(ctx, sessionId, r); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return cur, true, nil
}

// current returns the access_token of a session that changed during a
// refresh.
func (m *Manager) current(op string, cur *record) (oidc.AccessToken, error) {
	if cur == nil || cur.failed || cur.tokens.IsAbsent() || m.expired(&cur.tokens) {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	return cur.tokens.AccessToken, nil
}

// fail terminates the session and returns the error for the caller whose
// refresh failed.  A session that changed during the refresh isn't touched.
func (m *Manager) fail(ctx context.Context, sessionId, op string, from *oidc.TokenSet, cause error) (oidc.AccessToken, error) {
	m.logger.Error("session refresh failed", "session_id", sessionId, "error", cause)
	// ctx may be the exchange's, which has already timed out
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	cur, stored, err := m.commit(ctx, sessionId, from, &record{failed: true})
	switch {
	case err != nil:
		m.logger.Error("unable to mark session failed", "session_id", sessionId, "error", err)
		unlock := m.locks.lock(sessionId)
		if err := m.storage.Delete(ctx, sessionId); err != nil {
			m.logger.Error("unable to delete failed session", "session_id", sessionId, "error", err)
		}
		unlock()
	case !stored:
		m.logger.Debug("session changed during refresh, discarding failure", "session_id", sessionId)
		return m.current(op, cur)
	}
	return "", fmt.Errorf("%s: %w: %w", op, ErrSessionTerminated, cause)
}

// State returns the session's state.
func (m *Manager) State(ctx context.Context, sessionId string) (State, error) {
	const op = "Manager.State"
	r, err := m.load(ctx, sessionId)
	if err != nil {
		return Absent, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case r == nil || r.tokens.IsAbsent() && !r.failed:
		return Absent, nil
	case r.failed:
		return Failed, nil
	}
	if _, ok := m.inflight.Load(sessionId); ok {
		return Refreshing, nil
	}
	if m.expired(&r.tokens) {
		return Expired, nil
	}
	return Valid, nil
}

// Principal returns the session's Principal as derived from its most
// recently issued tokens.
func (m *Manager) Principal(ctx context.Context, sessionId string) (*Principal, error) {
	const op = "Manager.Principal"
	r, err := m.load(ctx, sessionId)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if r == nil || r.failed || r.tokens.IsAbsent() {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	p := r.principal
	return &p, nil
}

// SignOut removes the session and returns its id_token, which the caller can
// pass as the id_token_hint of the provider's end session endpoint.  The
// returned id_token is empty when the session had none.
func (m *Manager) SignOut(ctx context.Context, sessionId string) (oidc.IdToken, error) {
	const op = "Manager.SignOut"
	unlock := m.locks.lock(sessionId)
	defer unlock()
	r, err := m.load(ctx, sessionId)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := m.storage.Delete(ctx, sessionId); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("session signed out", "session_id", sessionId)
	if r == nil {
		return "", nil
	}
	return r.tokens.IdToken, nil
}

func (m *Manager) expired(ts *oidc.TokenSet) bool {
	return ts.Expired(oidc.WithNow(m.now), oidc.WithExpirySkew(m.skew))
}

func (m *Manager) load(ctx context.Context, sessionId string) (*record, error) {
	const op = "Manager.load"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	f, err := m.storage.Get(ctx, sessionId)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r, err := recordFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (m *Manager) store(ctx context.Context, sessionId string, r *record) error {
	const op = "Manager.store"
	f, err := r.fields()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.storage.Set(ctx, sessionId, f); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) verify(ctx context.Context, idToken oidc.IdToken) error {
	const op = "Manager.verify"
	if m.keySet == nil || idToken == "" {
		return nil
	}
	if _, err := m.keySet.VerifySignature(ctx, string(idToken)); err != nil {
		return fmt.Errorf("%s: id_token: %w", op, err)
	}
	return nil
}

// derive decodes the tokens and derives their Principal.  It returns the
// claims used for role sync: the id_token's when present.
func (m *Manager) derive(ts *oidc.TokenSet) (*Principal, claims.Set, error) {
	const op = "Manager.derive"
	accessClaims, err := ts.AccessToken.Claims()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	var idClaims claims.Set
	if ts.IdToken != "" {
		if idClaims, err = ts.IdToken.ClaimSet(); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	p := NewPrincipal(m.clientId, idClaims, accessClaims)
	if idClaims != nil {
		return p, idClaims, nil
	}
	return p, accessClaims, nil
}

func (m *Manager) syncRoles(ctx context.Context, sessionId, subject string, c claims.Set) {
	if m.roleSync == nil {
		return
	}
	if err := m.roleSync.SyncRoles(ctx, subject, c); err != nil {
		m.logger.Warn("role sync failed", "session_id", sessionId, "subject", subject, "error", err)
	}
}
