// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"strings"

	"github.com/hashicorp/idbroker/claims"
)

// DefaultClaimName is the claim groups are read from when none is configured.
const DefaultClaimName = "groups"

// ExtractGroups returns the groups found at the dotted claim path, for
// example "additional.groups".  A missing claim, or one of an unexpected type,
// is no groups.  A single string is one group and non-string list members are
// skipped.
func ExtractGroups(c claims.Set, path string) []string {
	if path == "" {
		return []string{}
	}
	return c.Strings(path)
}

// SplitGroupPaths flattens group paths ("/Org/Eng") into their segments
// ("Org", "Eng").  A maxLevel above zero keeps only the first maxLevel
// segments of every path.  The result holds each non-empty segment once, in
// the order first seen.  Segments compare exactly, whitespace included.
// Splitting its own output returns it unchanged.
func SplitGroupPaths(groups []string, maxLevel int) []string {
	segments := make([]string, 0, len(groups))
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		parts := strings.Split(strings.Trim(g, "/"), "/")
		if maxLevel > 0 && len(parts) > maxLevel {
			parts = parts[:maxLevel]
		}
		for _, p := range parts {
			if _, ok := seen[p]; ok || p == "" {
				continue
			}
			seen[p] = struct{}{}
			segments = append(segments, p)
		}
	}
	return segments
}
