// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package session keeps one authenticated principal's tokens fresh.

A Manager owns the lifecycle of the TokenSet stored for a session id:

	Absent -> Valid -> Expired -> Refreshing -> Valid
	                                         -> Failed

AccessToken returns the stored access_token while it is valid and
transparently refreshes it once it expires.  Only one refresh is in flight per
session; concurrent callers share its result.  A failed refresh terminates the
session: the tokens are cleared and every later AccessToken call returns
ErrNoSession until SignIn repopulates the store.

Session state lives behind the Storage interface.  MemoryStorage and
RedisStorage are provided.
*/
package session
