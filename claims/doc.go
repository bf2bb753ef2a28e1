// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package claims decodes the payload of a compact JWT (JWS compact
// serialization) into a Set of claims and provides fail-closed traversal of
// that Set.
//
// Decoding never verifies the token's signature. Callers that need a
// verified token must do so upstream (see the keyset package) before
// trusting the claims.
package claims
