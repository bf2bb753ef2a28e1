// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

// State of a session's TokenSet.
type State int

const (
	// Absent means no token was ever issued for the session (or it was
	// signed out).
	Absent State = iota
	Valid
	Expired
	Refreshing
	// Failed is terminal until the next SignIn.
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
