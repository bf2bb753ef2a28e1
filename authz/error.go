// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import "errors"

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrInvalidRulePattern = errors.New("invalid rule pattern")
)
