// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"testing"
	"time"

	"github.com/hashicorp/idbroker/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	t.Parallel()
	expiry := time.Date(2024, 1, 1, 12, 0, 0, 500, time.UTC)
	tests := []struct {
		name      string
		r         *record
		want      *record
		wantState string
	}{
		{
			name: "active",
			r: &record{
				tokens: oidc.TokenSet{AccessToken: "at", RefreshToken: "rt", IdToken: "id", Expiry: expiry},
				principal: Principal{
					Subject: "sub", Username: "alice", Email: "alice@example.com", Name: "Alice",
					RealmRoles: []string{"admin"}, ClientRoles: []string{"editor", "viewer"},
				},
			},
			wantState: stateActive,
		},
		{
			name: "no-roles-no-expiry",
			r: &record{
				tokens:    oidc.TokenSet{AccessToken: "at"},
				principal: Principal{Subject: "sub"},
			},
			want: &record{
				tokens:    oidc.TokenSet{AccessToken: "at"},
				principal: Principal{Subject: "sub", RealmRoles: []string{}, ClientRoles: []string{}},
			},
			wantState: stateActive,
		},
		{
			name: "failed-drops-tokens",
			r: &record{
				failed: true,
				tokens: oidc.TokenSet{AccessToken: "at", RefreshToken: "rt"},
			},
			want:      &record{failed: true},
			wantState: stateFailed,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			f, err := tt.r.fields()
			require.NoError(err)
			assert.Equal(tt.wantState, f[KeyState])
			for k := range f {
				assert.Contains(DefaultKeys(), k)
			}
			got, err := recordFrom(f)
			require.NoError(err)
			want := tt.want
			if want == nil {
				want = tt.r
			}
			assert.Equal(want, got)
		})
	}
}

func TestRecordFrom(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	r, err := recordFrom(nil)
	require.NoError(err)
	assert.Nil(r)

	_, err = recordFrom(map[string]string{KeyState: stateActive, KeyExpiresAt: "tomorrow"})
	require.Error(err)
	assert.ErrorIs(err, ErrStorage)

	_, err = recordFrom(map[string]string{KeyState: stateActive, KeyRealmRoles: "admin"})
	require.Error(err)
	assert.ErrorIs(err, ErrStorage)
}
