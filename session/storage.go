// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
)

// Storage is the session boundary: a key/value store of string fields keyed
// by session id.  Persistence, expiry and eviction are the storage's concern.
type Storage interface {
	// Get returns the session's fields or nil when there are none.
	Get(ctx context.Context, sessionId string) (map[string]string, error)

	// Set replaces all of the session's fields.
	Set(ctx context.Context, sessionId string, fields map[string]string) error

	// Delete removes the session's fields.  Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, sessionId string) error
}

// Field names of a stored session.
const (
	KeyState        = "state"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIdToken      = "id_token"
	KeyExpiresAt    = "expires_at"
	KeySubject      = "subject"
	KeyUsername     = "username"
	KeyEmail        = "email"
	KeyName         = "name"
	KeyRealmRoles   = "realm_roles"
	KeyClientRoles  = "client_roles"
)

var defaultKeys = [...]string{
	KeyState,
	KeyAccessToken,
	KeyRefreshToken,
	KeyIdToken,
	KeyExpiresAt,
	KeySubject,
	KeyUsername,
	KeyEmail,
	KeyName,
	KeyRealmRoles,
	KeyClientRoles,
}

// DefaultKeys returns the field names a Manager reads and writes.
func DefaultKeys() []string {
	keys := defaultKeys
	return keys[:]
}
