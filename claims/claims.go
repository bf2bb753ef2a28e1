// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import (
	"math"
	"strings"
	"time"
)

// PathSeparator separates the claim keys of a path given to Lookup.
const PathSeparator = "."

// Set is a decoded claim set. Values are one of: string, float64, bool,
// nil, []interface{} or map[string]interface{}, which is exactly what
// encoding/json produces for an untyped JSON object.
type Set map[string]interface{}

// Lookup navigates a dotted path (e.g. "realm_access.roles") through nested
// objects. It returns false when any segment is missing or when an
// intermediate value is not an object.
func (s Set) Lookup(path string) (interface{}, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	var cur interface{} = map[string]interface{}(s)
	for _, seg := range strings.Split(path, PathSeparator) {
		var obj map[string]interface{}
		switch v := cur.(type) {
		case map[string]interface{}:
			obj = v
		case Set:
			obj = v
		default:
			return nil, false
		}
		next, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// String returns the string value at path, or "" if the value is missing or
// not a string.
func (s Set) String(path string) string {
	v, ok := s.Lookup(path)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Strings returns the list of strings at path. A single string value is
// returned as a one element list and non-string list members are skipped.
// Any other value, or a missing path, yields an empty list.
func (s Set) Strings(path string) []string {
	v, ok := s.Lookup(path)
	if !ok {
		return []string{}
	}
	switch v := v.(type) {
	case string:
		return []string{v}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Object returns the nested object at path, or nil.
func (s Set) Object(path string) Set {
	v, ok := s.Lookup(path)
	if !ok {
		return nil
	}
	switch v := v.(type) {
	case map[string]interface{}:
		return Set(v)
	case Set:
		return v
	default:
		return nil
	}
}

// Expiry returns the "exp" claim. The zero time is returned when the claim
// is missing or not numeric.
func (s Set) Expiry() time.Time {
	v, ok := s.Lookup("exp")
	if !ok {
		return time.Time{}
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
