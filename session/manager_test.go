// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/idbroker/claims"
	"github.com/hashicorp/idbroker/keyset"
	"github.com/hashicorp/idbroker/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	t.Parallel()
	r := &testRefresher{}
	s := NewMemoryStorage(0)
	tests := []struct {
		name      string
		clientId  string
		r         Refresher
		s         Storage
		opt       []Option
		wantIsErr error
	}{
		{name: "valid", clientId: "portal", r: r, s: s},
		{name: "valid-zero-skew", clientId: "portal", r: r, s: s, opt: []Option{WithExpirySkew(0)}},
		{name: "empty-client-id", r: r, s: s, wantIsErr: ErrInvalidParameter},
		{name: "nil-refresher", clientId: "portal", s: s, wantIsErr: ErrNilParameter},
		{name: "nil-storage", clientId: "portal", r: r, wantIsErr: ErrNilParameter},
		{name: "negative-skew", clientId: "portal", r: r, s: s, opt: []Option{WithExpirySkew(-time.Second)}, wantIsErr: ErrInvalidParameter},
		{name: "zero-timeout", clientId: "portal", r: r, s: s, opt: []Option{WithTimeout(0)}, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			m, err := NewManager(tt.clientId, tt.r, tt.s, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.NotNil(m)
		})
	}
}

func TestNewSessionId(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	id, err := NewSessionId()
	require.NoError(err)
	assert.Contains(id, "sess_")
	again, err := NewSessionId()
	require.NoError(err)
	assert.NotEqual(id, again)
}

func TestManager_SignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	issuer := newTestIssuer(t)
	clock := newTestClock()

	t.Run("derives-principal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rs := &testRoleSync{}
		m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0), WithNow(clock.Now), WithRoleSync(rs))
		require.NoError(err)

		p, err := m.SignIn(ctx, "s1", issuer.tokens("rt", clock.Now().Add(time.Minute), []string{"admin"}, []string{"editor"}))
		require.NoError(err)
		assert.Equal("alice-id", p.Subject)
		assert.Equal("alice", p.Username)
		assert.Equal("Alice Doe", p.Name)
		assert.Equal([]string{"admin"}, p.RealmRoles)
		assert.Equal([]string{"editor"}, p.ClientRoles)

		got, err := m.Principal(ctx, "s1")
		require.NoError(err)
		assert.Equal(p, got)

		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Valid, state)

		require.Len(rs.subjects, 1)
		assert.Equal("alice-id", rs.subjects[0])
		assert.Equal([]string{"/Org/Eng"}, rs.claims[0].Strings("groups"))
	})
	t.Run("derives-expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		ts := issuer.tokens("rt", time.Time{}, nil, nil)
		_, err = m.SignIn(ctx, "s1", ts)
		require.NoError(err)

		c, err := ts.AccessToken.Claims()
		require.NoError(err)
		f, err := m.storage.Get(ctx, "s1")
		require.NoError(err)
		r, err := recordFrom(f)
		require.NoError(err)
		assert.True(c.Expiry().Equal(r.tokens.Expiry))
	})
	t.Run("invalid", func(t *testing.T) {
		m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0))
		require.NoError(t, err)
		tests := []struct {
			name      string
			sessionId string
			ts        *oidc.TokenSet
			wantIsErr error
		}{
			{name: "empty-session-id", ts: issuer.tokens("rt", time.Time{}, nil, nil), wantIsErr: ErrInvalidParameter},
			{name: "nil-tokens", sessionId: "s1", wantIsErr: ErrNilParameter},
			{name: "absent-tokens", sessionId: "s1", ts: &oidc.TokenSet{RefreshToken: "rt"}, wantIsErr: ErrInvalidParameter},
			{name: "malformed-access-token", sessionId: "s1", ts: &oidc.TokenSet{AccessToken: "opaque"}, wantIsErr: claims.ErrMalformedToken},
			{name: "malformed-id-token", sessionId: "s1", ts: &oidc.TokenSet{AccessToken: issuer.tokens("", time.Time{}, nil, nil).AccessToken, IdToken: "a.b"}, wantIsErr: claims.ErrMalformedToken},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				_, err := m.SignIn(ctx, tt.sessionId, tt.ts)
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				if tt.sessionId != "" {
					state, err := m.State(ctx, tt.sessionId)
					require.NoError(err)
					assert.Equal(Absent, state)
				}
			})
		}
	})
	t.Run("verifies-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ks, err := keyset.NewStaticKeySet([]string{issuer.pub})
		require.NoError(err)
		m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0), WithKeySet(ks))
		require.NoError(err)

		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt", clock.Now().Add(time.Minute), nil, nil))
		require.NoError(err)

		other := newTestIssuer(t)
		_, err = m.SignIn(ctx, "s2", other.tokens("rt", clock.Now().Add(time.Minute), nil, nil))
		require.Error(err)
		assert.ErrorIs(err, keyset.ErrInvalidSignature)
		state, err := m.State(ctx, "s2")
		require.NoError(err)
		assert.Equal(Absent, state)
	})
}

func TestManager_AccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	issuer := newTestIssuer(t)

	t.Run("absent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0))
		require.NoError(err)
		_, err = m.AccessToken(ctx, "missing")
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)

		_, err = m.AccessToken(ctx, "")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("valid-no-exchange", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		ts := issuer.tokens("rt", clock.Now().Add(time.Minute), nil, nil)
		_, err = m.SignIn(ctx, "s1", ts)
		require.NoError(err)

		for i := 0; i < 3; i++ {
			got, err := m.AccessToken(ctx, "s1")
			require.NoError(err)
			assert.Equal(ts.AccessToken, got)
		}
		assert.Equal(0, r.Calls())
	})
	t.Run("expired-refreshes-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		refreshed := issuer.tokens("rt-2", clock.Now().Add(10*time.Minute), []string{"viewer"}, nil)
		r := &testRefresher{
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return refreshed, nil
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now().Add(time.Minute), []string{"admin", "viewer"}, []string{"editor"}))
		require.NoError(err)

		clock.Advance(time.Minute)
		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Expired, state)

		got, err := m.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Equal(refreshed.AccessToken, got)
		assert.Equal(1, r.Calls())
		assert.Equal([]oidc.RefreshToken{"rt-1"}, r.gotRT)

		// recomputed, not merged
		p, err := m.Principal(ctx, "s1")
		require.NoError(err)
		assert.Equal([]string{"viewer"}, p.RealmRoles)
		assert.Empty(p.ClientRoles)
		assert.False(p.HasRealmRole("admin"))

		got, err = m.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Equal(refreshed.AccessToken, got)
		assert.Equal(1, r.Calls())
	})
	t.Run("skew", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return issuer.tokens("", clock.Now().Add(time.Hour), nil, nil), nil
			},
		}
		withSkew, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now), WithExpirySkew(oidc.DefaultTokenExpirySkew))
		require.NoError(err)
		noSkew, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		for _, m := range []*Manager{withSkew, noSkew} {
			_, err = m.SignIn(ctx, "s1", issuer.tokens("rt", clock.Now().Add(10*time.Second), nil, nil))
			require.NoError(err)
		}

		state, err := noSkew.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Valid, state)
		_, err = noSkew.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Equal(0, r.Calls())

		state, err = withSkew.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Expired, state)

		_, err = withSkew.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Equal(1, r.Calls())
	})
	t.Run("keeps-omitted-tokens", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				ts := issuer.tokens("", clock.Now().Add(time.Hour), nil, nil)
				ts.IdToken = ""
				return ts, nil
			},
		}
		storage := NewMemoryStorage(0)
		m, err := NewManager(issuer.clientId, r, storage, WithNow(clock.Now))
		require.NoError(err)
		signIn := issuer.tokens("rt-1", clock.Now(), nil, nil)
		_, err = m.SignIn(ctx, "s1", signIn)
		require.NoError(err)

		_, err = m.AccessToken(ctx, "s1")
		require.NoError(err)
		f, err := storage.Get(ctx, "s1")
		require.NoError(err)
		assert.Equal("rt-1", f[KeyRefreshToken])
		assert.Equal(string(signIn.IdToken), f[KeyIdToken])
	})
	t.Run("refresh-failure-terminates", func(t *testing.T) {
		tests := []struct {
			name      string
			reply     func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error)
			wantIsErr error
		}{
			{
				name: "refresh-failed",
				reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
					return nil, fmt.Errorf("test: %w", oidc.ErrRefreshFailed)
				},
				wantIsErr: oidc.ErrRefreshFailed,
			},
			{
				name: "missing-access-token",
				reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
					return &oidc.TokenSet{RefreshToken: "rt-2"}, nil
				},
				wantIsErr: oidc.ErrMissingAccessToken,
			},
			{
				name: "malformed-access-token",
				reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
					return &oidc.TokenSet{AccessToken: "opaque"}, nil
				},
				wantIsErr: claims.ErrMalformedToken,
			},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				clock := newTestClock()
				r := &testRefresher{reply: tt.reply}
				var buf bytes.Buffer
				logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Debug})
				m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now), WithLogger(logger))
				require.NoError(err)
				signIn := issuer.tokens("rt-1", clock.Now(), nil, nil)
				_, err = m.SignIn(ctx, "s1", signIn)
				require.NoError(err)

				_, err = m.AccessToken(ctx, "s1")
				require.Error(err)
				assert.ErrorIs(err, ErrSessionTerminated)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Contains(buf.String(), "session refresh failed")
				assert.Contains(buf.String(), "session_id=s1")
				assert.NotContains(buf.String(), string(signIn.AccessToken))

				state, err := m.State(ctx, "s1")
				require.NoError(err)
				assert.Equal(Failed, state)

				for i := 0; i < 3; i++ {
					_, err = m.AccessToken(ctx, "s1")
					require.Error(err)
					assert.ErrorIs(err, ErrNoSession)
				}
				_, err = m.Principal(ctx, "s1")
				assert.ErrorIs(err, ErrNoSession)
				assert.Equal(1, r.Calls())

				// a fresh sign in repopulates the session
				_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-3", clock.Now().Add(time.Hour), nil, nil))
				require.NoError(err)
				state, err = m.State(ctx, "s1")
				require.NoError(err)
				assert.Equal(Valid, state)
			})
		}
	})
	t.Run("missing-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("", clock.Now(), nil, nil))
		require.NoError(err)
		_, err = m.AccessToken(ctx, "s1")
		require.Error(err)
		assert.ErrorIs(err, ErrSessionTerminated)
		assert.ErrorIs(err, oidc.ErrMissingRefreshToken)
		assert.Equal(0, r.Calls())
	})
	t.Run("concurrent-callers-share-one-exchange", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		refreshed := issuer.tokens("rt-2", clock.Now().Add(time.Hour), nil, nil)
		r := &testRefresher{
			started: make(chan struct{}, 10),
			release: make(chan struct{}),
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return refreshed, nil
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)

		const callers = 10
		var wg sync.WaitGroup
		results := make(chan oidc.AccessToken, callers)
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				at, err := m.AccessToken(ctx, "s1")
				if err != nil {
					errs <- err
					return
				}
				results <- at
			}()
		}
		<-r.started
		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Refreshing, state)
		// let the other callers join the in-flight refresh
		time.Sleep(100 * time.Millisecond)
		close(r.release)
		wg.Wait()
		close(results)
		close(errs)

		for err := range errs {
			assert.NoError(err)
		}
		for at := range results {
			assert.Equal(refreshed.AccessToken, at)
		}
		assert.Equal(1, r.Calls())
	})
	t.Run("refreshes-per-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{
			reply: func(_ context.Context, rt oidc.RefreshToken) (*oidc.TokenSet, error) {
				return issuer.tokens(string(rt)+"-next", clock.Now().Add(time.Hour), nil, nil), nil
			},
		}
		storage := NewMemoryStorage(0)
		m, err := NewManager(issuer.clientId, r, storage, WithNow(clock.Now))
		require.NoError(err)
		for _, id := range []string{"s1", "s2"} {
			_, err = m.SignIn(ctx, id, issuer.tokens(id, clock.Now(), nil, nil))
			require.NoError(err)
		}
		for _, id := range []string{"s1", "s2"} {
			_, err = m.AccessToken(ctx, id)
			require.NoError(err)
			f, err := storage.Get(ctx, id)
			require.NoError(err)
			assert.Equal(id+"-next", f[KeyRefreshToken])
		}
		assert.Equal(2, r.Calls())
	})
	t.Run("cancelled-caller-returns-promptly", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		refreshed := issuer.tokens("rt-2", clock.Now().Add(time.Hour), nil, nil)
		r := &testRefresher{
			started: make(chan struct{}, 1),
			release: make(chan struct{}),
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return refreshed, nil
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)

		callerCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := m.AccessToken(callerCtx, "s1")
			errCh <- err
		}()
		<-r.started
		cancel()
		select {
		case err := <-errCh:
			require.Error(err)
			assert.ErrorIs(err, ErrRefreshInProgress)
			assert.ErrorIs(err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("cancelled caller was blocked by the in-flight refresh")
		}

		// the exchange completes on its own
		close(r.release)
		require.Eventually(func() bool {
			state, err := m.State(ctx, "s1")
			return err == nil && state == Valid
		}, 2*time.Second, 10*time.Millisecond)
		got, err := m.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Equal(refreshed.AccessToken, got)
		assert.Equal(1, r.Calls())
	})
	t.Run("timeout-terminates", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{
			release: make(chan struct{}),
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return nil, errors.New("unreachable")
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now), WithTimeout(50*time.Millisecond))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)

		_, err = m.AccessToken(ctx, "s1")
		require.Error(err)
		assert.ErrorIs(err, ErrSessionTerminated)
		assert.ErrorIs(err, context.DeadlineExceeded)
		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Failed, state)
	})
	t.Run("role-sync-errors-are-not-fatal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		rs := &testRoleSync{err: errors.New("directory unavailable")}
		r := &testRefresher{
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return issuer.tokens("rt-2", clock.Now().Add(time.Hour), nil, nil), nil
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now), WithRoleSync(rs))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)
		_, err = m.AccessToken(ctx, "s1")
		require.NoError(err)
		assert.Len(rs.subjects, 2)
	})
	t.Run("sign-out-during-refresh", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		r := &testRefresher{
			started: make(chan struct{}, 1),
			release: make(chan struct{}),
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return issuer.tokens("rt-2", clock.Now().Add(time.Hour), nil, nil), nil
			},
		}
		m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)

		errCh := make(chan error, 1)
		go func() {
			_, err := m.AccessToken(ctx, "s1")
			errCh <- err
		}()
		<-r.started
		_, err = m.SignOut(ctx, "s1")
		require.NoError(err)
		close(r.release)

		err = <-errCh
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Absent, state)
		_, err = m.AccessToken(ctx, "s1")
		assert.ErrorIs(err, ErrNoSession)
		_, err = m.Principal(ctx, "s1")
		assert.ErrorIs(err, ErrNoSession)
		assert.Equal(1, r.Calls())
		assert.Equal(0, m.locks.len())
	})
	t.Run("sign-in-during-refresh", func(t *testing.T) {
		tests := []struct {
			name  string
			reply func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error)
		}{
			{
				name: "refresh-succeeds",
				reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
					return issuer.tokens("rt-2", time.Now().Add(time.Hour), []string{"stale"}, nil), nil
				},
			},
			{
				name: "refresh-fails",
				reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
					return nil, fmt.Errorf("test: %w", oidc.ErrRefreshFailed)
				},
			},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				clock := newTestClock()
				r := &testRefresher{
					started: make(chan struct{}, 1),
					release: make(chan struct{}),
					reply:   tt.reply,
				}
				m, err := NewManager(issuer.clientId, r, NewMemoryStorage(0), WithNow(clock.Now))
				require.NoError(err)
				_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
				require.NoError(err)

				type result struct {
					at  oidc.AccessToken
					err error
				}
				resCh := make(chan result, 1)
				go func() {
					at, err := m.AccessToken(ctx, "s1")
					resCh <- result{at: at, err: err}
				}()
				<-r.started
				signIn := issuer.tokens("rt-new", clock.Now().Add(time.Hour), []string{"admin"}, []string{"editor"})
				want, err := m.SignIn(ctx, "s1", signIn)
				require.NoError(err)
				close(r.release)

				res := <-resCh
				require.NoError(res.err)
				assert.Equal(signIn.AccessToken, res.at)

				state, err := m.State(ctx, "s1")
				require.NoError(err)
				assert.Equal(Valid, state)
				got, err := m.Principal(ctx, "s1")
				require.NoError(err)
				assert.Equal(want, got)
				assert.Equal([]string{"admin"}, got.RealmRoles)
				at, err := m.AccessToken(ctx, "s1")
				require.NoError(err)
				assert.Equal(signIn.AccessToken, at)
				assert.Equal(1, r.Calls())
			})
		}
	})
	t.Run("store-failure-after-refresh-terminates", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		errUnavailable := errors.New("storage unavailable")
		storage := &failingStorage{MemoryStorage: NewMemoryStorage(0), failFrom: 2, err: errUnavailable}
		r := &testRefresher{
			reply: func(context.Context, oidc.RefreshToken) (*oidc.TokenSet, error) {
				return issuer.tokens("rt-2", clock.Now().Add(time.Hour), nil, nil), nil
			},
		}
		m, err := NewManager(issuer.clientId, r, storage, WithNow(clock.Now))
		require.NoError(err)
		_, err = m.SignIn(ctx, "s1", issuer.tokens("rt-1", clock.Now(), nil, nil))
		require.NoError(err)

		_, err = m.AccessToken(ctx, "s1")
		require.Error(err)
		assert.ErrorIs(err, ErrSessionTerminated)
		assert.ErrorIs(err, errUnavailable)

		// the session holding the rotated-away refresh token is gone
		state, err := m.State(ctx, "s1")
		require.NoError(err)
		assert.Equal(Absent, state)
		_, err = m.AccessToken(ctx, "s1")
		assert.ErrorIs(err, ErrNoSession)
		assert.Equal(1, r.Calls())
	})
}

func TestManager_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	issuer := newTestIssuer(t)
	m, err := NewManager(issuer.clientId, &testRefresher{}, NewMemoryStorage(0))
	require.NoError(err)

	ts := issuer.tokens("rt", time.Now().Add(time.Hour), nil, nil)
	_, err = m.SignIn(ctx, "s1", ts)
	require.NoError(err)

	hint, err := m.SignOut(ctx, "s1")
	require.NoError(err)
	assert.Equal(ts.IdToken, hint)

	state, err := m.State(ctx, "s1")
	require.NoError(err)
	assert.Equal(Absent, state)
	_, err = m.AccessToken(ctx, "s1")
	assert.ErrorIs(err, ErrNoSession)

	hint, err = m.SignOut(ctx, "s1")
	require.NoError(err)
	assert.Empty(hint)
}

func TestManager_WithProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	tp := oidc.StartTestProvider(t)
	tp.SetExpectedRefreshToken("rt-1")
	tp.SetCustomClaims(oidc.TestClaims("test-client", []string{"admin"}, []string{"editor"}, []string{"/Org/Eng"}))
	p, err := oidc.NewProvider(tp.Config())
	require.NoError(err)
	ks, err := keyset.NewKeycloakKeySet(ctx, tp.Addr(), tp.CACert())
	require.NoError(err)

	clock := newTestClock()
	m, err := NewManager("test-client", p, NewMemoryStorage(time.Hour), WithNow(clock.Now), WithKeySet(ks))
	require.NoError(err)

	ts := tp.IssueTokens("rt-1")
	ts.Expiry = clock.Now().Add(time.Minute)
	_, err = m.SignIn(ctx, "s1", ts)
	require.NoError(err)

	clock.Advance(time.Minute)
	at, err := m.AccessToken(ctx, "s1")
	require.NoError(err)
	assert.NotEqual(ts.AccessToken, at)
	assert.Equal(1, tp.RefreshCount())

	principal, err := m.Principal(ctx, "s1")
	require.NoError(err)
	assert.True(principal.HasRealmRole("admin"))
	assert.True(principal.HasClientRole("editor"))

	// the provider rotated the refresh token, so the old one is rejected and
	// the session terminates on the next expiry
	clock.Advance(time.Hour)
	tp.SetExpectedRefreshToken("rt-1")
	_, err = m.AccessToken(ctx, "s1")
	require.Error(err)
	assert.ErrorIs(err, ErrSessionTerminated)
	assert.ErrorIs(err, oidc.ErrRefreshFailed)
	_, err = m.AccessToken(ctx, "s1")
	assert.ErrorIs(err, ErrNoSession)
}
