// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for keeping an OIDC provider's tokens fresh

Primary types provided by the package

* TokenSet: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the access_token expiry).  A TokenSet without an
access_token is absent, not expired.

* Config: provides the configuration needed to talk to the provider's token
endpoint (for example: issuer, client Id/Secret, optional token URL, optional
CA cert and request timeout).

* Provider: provides integration with a provider's token endpoint.  Its
Refresh function exchanges a refresh_token for a new TokenSet using the
refresh_token grant.  There is no automatic retry; callers decide whether to
try again or force a new authentication.

Testing

* TestProvider: a local TLS server that supports OIDC discovery, JWKS and the
refresh_token grant, with knobs to force failures.  See StartTestProvider.

* TestGenerateKeys and TestSignJWT: helpers for creating signed test tokens.
*/
package oidc
