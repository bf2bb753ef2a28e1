// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"strings"

	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/hashicorp/idbroker/claims"
)

// Principal is the locally recognized identity of a session, derived from
// its tokens' claims.  It is recomputed from scratch on sign in and on every
// refresh.
type Principal struct {
	Subject     string   `json:"subject"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	RealmRoles  []string `json:"realm_roles"`
	ClientRoles []string `json:"client_roles"`
}

// NewPrincipal derives a Principal.  Identity comes from the id_token claims
// when present, otherwise the access_token claims.  Roles come from the
// access_token claims (realm_access.roles and
// resource_access.<clientId>.roles), falling back to the id_token claims when
// the access_token carries none.
func NewPrincipal(clientId string, idClaims, accessClaims claims.Set) *Principal {
	identity := idClaims
	if len(identity) == 0 {
		identity = accessClaims
	}
	p := &Principal{
		Subject: identity.String("sub"),
		Email:   identity.String("email"),
	}
	if p.Subject == "" {
		p.Subject = accessClaims.String("sub")
	}
	switch {
	case identity.String("preferred_username") != "":
		p.Username = identity.String("preferred_username")
	case p.Email != "":
		p.Username = p.Email
	default:
		p.Username = p.Subject
	}
	p.Name = identity.String("name")
	if p.Name == "" {
		p.Name = strings.TrimSpace(identity.String("given_name") + " " + identity.String("family_name"))
	}

	rolesFrom := accessClaims
	if _, ok := accessClaims.Lookup("realm_access"); !ok {
		if _, ok := accessClaims.Lookup("resource_access"); !ok {
			rolesFrom = idClaims
		}
	}
	p.RealmRoles = strutil.RemoveDuplicatesStable(rolesFrom.Strings("realm_access.roles"), false)
	p.ClientRoles = clientRoles(rolesFrom, clientId)
	return p
}

// clientRoles reads resource_access.<clientId>.roles.  The client id is used
// as a single key since client ids may contain dots.
func clientRoles(c claims.Set, clientId string) []string {
	if clientId == "" {
		return []string{}
	}
	client := c.Object("resource_access")[clientId]
	var roles []string
	switch v := client.(type) {
	case map[string]interface{}:
		roles = claims.Set(v).Strings("roles")
	case claims.Set:
		roles = v.Strings("roles")
	}
	return strutil.RemoveDuplicatesStable(roles, false)
}

// HasRealmRole reports whether the principal was granted the realm role.
func (p *Principal) HasRealmRole(role string) bool {
	if p == nil {
		return false
	}
	return strutil.StrListContains(p.RealmRoles, role)
}

// HasClientRole reports whether the principal was granted the client role.
func (p *Principal) HasClientRole(role string) bool {
	if p == nil {
		return false
	}
	return strutil.StrListContains(p.ClientRoles, role)
}
