// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrInvalidCACert       = errors.New("invalid CA certificate")
	ErrInvalidIssuer       = errors.New("invalid issuer")
	ErrIdGeneratorFailed   = errors.New("id generation failed")
	ErrMissingAccessToken  = errors.New("access_token is missing")
	ErrMissingRefreshToken = errors.New("refresh_token is missing")
	ErrRefreshFailed       = errors.New("refresh failed")
)
