// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package keyset

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)
