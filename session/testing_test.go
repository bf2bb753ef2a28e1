// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/idbroker/claims"
	"github.com/hashicorp/idbroker/oidc"
)

// testClock is a settable "now".
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testRefresher is a Refresher whose replies are controlled by the test.
type testRefresher struct {
	mu      sync.Mutex
	calls   int
	gotRT   []oidc.RefreshToken
	started chan struct{}
	release chan struct{}
	reply   func(ctx context.Context, rt oidc.RefreshToken) (*oidc.TokenSet, error)
}

func (r *testRefresher) Refresh(ctx context.Context, rt oidc.RefreshToken) (*oidc.TokenSet, error) {
	r.mu.Lock()
	r.calls++
	r.gotRT = append(r.gotRT, rt)
	started, release, reply := r.started, r.release, r.reply
	r.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return reply(ctx, rt)
}

func (r *testRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// testIssuer signs tokens shaped like a Keycloak realm's.
type testIssuer struct {
	t        *testing.T
	clientId string
	pub      string
	priv     string
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	pub, priv := oidc.TestGenerateKeys(t)
	return &testIssuer{t: t, clientId: "portal", pub: pub, priv: priv}
}

// tokens issues a TokenSet granting the roles which expires at expiry.
func (i *testIssuer) tokens(refreshToken string, expiry time.Time, realmRoles, clientRoles []string) *oidc.TokenSet {
	i.t.Helper()
	c := oidc.TestClaims(i.clientId, realmRoles, clientRoles, []string{"/Org/Eng"})
	at := oidc.TestToken(i.t, i.priv, "https://sso.example.com/realms/acme", "alice-id", time.Hour, c)
	id := oidc.TestToken(i.t, i.priv, "https://sso.example.com/realms/acme", "alice-id", time.Hour, c)
	return &oidc.TokenSet{
		AccessToken:  oidc.AccessToken(at),
		IdToken:      oidc.IdToken(id),
		RefreshToken: oidc.RefreshToken(refreshToken),
		Expiry:       expiry,
	}
}

// testRoleSync records every sync.
type testRoleSync struct {
	mu       sync.Mutex
	subjects []string
	claims   []claims.Set
	err      error
}

func (s *testRoleSync) SyncRoles(_ context.Context, subject string, c claims.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	s.claims = append(s.claims, c)
	return s.err
}

// failingStorage fails every Set from the failFrom'th on.
type failingStorage struct {
	*MemoryStorage
	mu       sync.Mutex
	sets     int
	failFrom int
	err      error
}

func (s *failingStorage) Set(ctx context.Context, sessionId string, fields map[string]string) error {
	s.mu.Lock()
	s.sets++
	fail := s.failFrom > 0 && s.sets >= s.failFrom
	s.mu.Unlock()
	if fail {
		return s.err
	}
	return s.MemoryStorage.Set(ctx, sessionId, fields)
}
