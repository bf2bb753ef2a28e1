// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package middleware guards http routes with a session.Manager's sessions and
the roles of their principals.

RequireSession resolves the request's session cookie to a fresh access token
and principal, redirecting to the login url when there's no usable session.
RequireRealmRole and RequireClientRole must be chained after it:

	mux.Handle("/admin", middleware.RequireSession(mgr)(
		middleware.RequireRealmRole("admin")(adminHandler),
	))
*/
package middleware
