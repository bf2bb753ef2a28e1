// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often MemoryStorage purges expired sessions.
const DefaultCleanupInterval = 10 * time.Minute

// MemoryStorage is an in-process Storage.  Sessions are evicted ttl after
// their last Set.
type MemoryStorage struct {
	c *cache.Cache
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a MemoryStorage.  A ttl of zero never evicts.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStorage{
		c: cache.New(ttl, DefaultCleanupInterval),
	}
}

// Get returns a copy of the session's fields.
func (s *MemoryStorage) Get(_ context.Context, sessionId string) (map[string]string, error) {
	const op = "MemoryStorage.Get"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	v, found := s.c.Get(sessionId)
	if !found {
		return nil, nil
	}
	fields, ok := v.(map[string]string)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected session value %T: %w", op, v, ErrStorage)
	}
	return copyFields(fields), nil
}

// Set stores a copy of the session's fields.
func (s *MemoryStorage) Set(_ context.Context, sessionId string, fields map[string]string) error {
	const op = "MemoryStorage.Set"
	if sessionId == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	s.c.SetDefault(sessionId, copyFields(fields))
	return nil
}

// Delete removes the session.
func (s *MemoryStorage) Delete(_ context.Context, sessionId string) error {
	const op = "MemoryStorage.Delete"
	if sessionId == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	s.c.Delete(sessionId)
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet
// purged.
func (s *MemoryStorage) Len() int {
	return s.c.ItemCount()
}

func copyFields(fields map[string]string) map[string]string {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}
