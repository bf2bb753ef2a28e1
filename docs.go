// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// idbroker brokers identity between applications and an OIDC identity
// provider. It provides a collection of related packages which keep a
// session's tokens fresh and derive local authorization decisions from the
// claims in those tokens.
package idbroker
