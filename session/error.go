// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoSession means there are no tokens for the session: it was never
	// signed in, it was signed out or its refresh failed.
	ErrNoSession = errors.New("no session")

	// ErrSessionTerminated is returned by the call whose refresh failed.  The
	// caller should force a new authentication.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrRefreshInProgress is returned when the caller's context ends while
	// the session's refresh is still in flight.  The refresh continues and
	// the caller may retry.
	ErrRefreshInProgress = errors.New("refresh in progress")

	ErrStorage = errors.New("session storage error")
)
