// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"fmt"
	"regexp"
)

// Expression returns the regular expression a Rule matches each group
// against.  Literal operations quote the pattern.  It's empty for the empty
// and not_empty operations, which don't use a pattern.
func (r Rule) Expression() (string, error) {
	const op = "Rule.Expression"
	if !r.Operation.Valid() {
		return "", fmt.Errorf("%s: %q: %w", op, r.Operation, ErrInvalidOperation)
	}
	if r.Operation == OpEmpty || r.Operation == OpNotEmpty {
		return "", nil
	}
	p := r.Pattern
	if r.Operation.Literal() {
		p = regexp.QuoteMeta(p)
	}
	switch r.Operation {
	case OpEqual, OpNotEqual:
		p = "^" + p + "$"
	case OpStartsWith, OpStartsNotWith:
		p = "^" + p
	case OpEndsWith, OpEndsNotWith:
		p = p + "$"
	}
	if !r.CaseSensitive {
		p = "(?i)" + p
	}
	return p, nil
}

// matcher is a Rule with its expression compiled.
type matcher struct {
	rule Rule
	re   *regexp.Regexp
}

func compile(r Rule) (*matcher, error) {
	const op = "compile"
	expr, err := r.Expression()
	if err != nil {
		return nil, fmt.Errorf("%s: rule %q: %w", op, r.Id, err)
	}
	m := &matcher{rule: r}
	if expr == "" {
		return m, nil
	}
	if m.re, err = regexp.Compile(expr); err != nil {
		return nil, fmt.Errorf("%s: rule %q: %w: %w", op, r.Id, ErrInvalidRulePattern, err)
	}
	return m, nil
}

func (m *matcher) eval(groups []string) bool {
	if !m.rule.Enabled {
		return false
	}
	switch m.rule.Operation {
	case OpEmpty:
		return len(groups) == 0
	case OpNotEmpty:
		return len(groups) > 0
	}
	matched := false
	for _, g := range groups {
		if m.re.MatchString(g) {
			matched = true
			break
		}
	}
	if m.rule.Operation.Negated() {
		return !matched
	}
	return matched
}

// Evaluate reports whether the rule matches the groups.  A disabled rule never
// matches.  Positive operations match when any group matches and negated
// operations when none does.  The error wraps ErrInvalidRulePattern when a
// regex pattern doesn't compile, or ErrInvalidOperation.
func Evaluate(groups []string, r Rule) (bool, error) {
	const op = "Evaluate"
	if !r.Enabled {
		return false, nil
	}
	m, err := compile(r)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return m.eval(groups), nil
}
