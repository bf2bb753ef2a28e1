// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/idbroker/oidc"
)

const (
	stateActive = "active"
	stateFailed = "failed"
)

// record is a session as it is kept in Storage.
type record struct {
	failed    bool
	tokens    oidc.TokenSet
	principal Principal
}

func (r *record) fields() (map[string]string, error) {
	const op = "record.fields"
	if r.failed {
		// tokens and principal are never kept for a failed session
		return map[string]string{KeyState: stateFailed}, nil
	}
	realmRoles, err := json.Marshal(nonNil(r.principal.RealmRoles))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode realm roles: %w", op, err)
	}
	clientRoles, err := json.Marshal(nonNil(r.principal.ClientRoles))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode client roles: %w", op, err)
	}
	f := map[string]string{
		KeyState:        stateActive,
		KeyAccessToken:  string(r.tokens.AccessToken),
		KeyRefreshToken: string(r.tokens.RefreshToken),
		KeyIdToken:      string(r.tokens.IdToken),
		KeySubject:      r.principal.Subject,
		KeyUsername:     r.principal.Username,
		KeyEmail:        r.principal.Email,
		KeyName:         r.principal.Name,
		KeyRealmRoles:   string(realmRoles),
		KeyClientRoles:  string(clientRoles),
	}
	if !r.tokens.Expiry.IsZero() {
		f[KeyExpiresAt] = r.tokens.Expiry.UTC().Format(time.RFC3339Nano)
	}
	return f, nil
}

// recordFrom decodes stored fields.  A nil map is no record.
func recordFrom(f map[string]string) (*record, error) {
	const op = "recordFrom"
	if f == nil {
		return nil, nil
	}
	if f[KeyState] == stateFailed {
		return &record{failed: true}, nil
	}
	r := &record{
		tokens: oidc.TokenSet{
			AccessToken:  oidc.AccessToken(f[KeyAccessToken]),
			RefreshToken: oidc.RefreshToken(f[KeyRefreshToken]),
			IdToken:      oidc.IdToken(f[KeyIdToken]),
		},
		principal: Principal{
			Subject:  f[KeySubject],
			Username: f[KeyUsername],
			Email:    f[KeyEmail],
			Name:     f[KeyName],
		},
	}
	if v := f[KeyExpiresAt]; v != "" {
		exp, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid %s: %w: %w", op, KeyExpiresAt, ErrStorage, err)
		}
		r.tokens.Expiry = exp
	}
	for k, dst := range map[string]*[]string{
		KeyRealmRoles:  &r.principal.RealmRoles,
		KeyClientRoles: &r.principal.ClientRoles,
	} {
		*dst = []string{}
		if v := f[k]; v != "" {
			if err := json.Unmarshal([]byte(v), dst); err != nil {
				return nil, fmt.Errorf("%s: invalid %s: %w: %w", op, k, ErrStorage, err)
			}
		}
	}
	return r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
