// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package keyset verifies the signatures of tokens issued by an OIDC provider.

A KeySet is backed by local PEM public keys (StaticKeySet), by the keys
published at a JWKS URL (JSONWebKeySet) or by the keys found through the
provider's discovery document (OIDCDiscoveryKeySet).  Verification only covers
the signature: claims like exp, iss and aud are left to the caller.
*/
package keyset
