// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "sync"

// sessionLocks serializes writes to a session within a Manager.  A lock is
// dropped once nothing holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// lock the session and return its unlock func.
func (l *sessionLocks) lock(sessionId string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sessionLock{}
	}
	sl, ok := l.locks[sessionId]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionId] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		if sl.refs--; sl.refs == 0 {
			delete(l.locks, sessionId)
		}
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
