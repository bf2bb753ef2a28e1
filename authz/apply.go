// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// ApplyRules evaluates the enabled rules, lightest Weight first (equal
// weights by Id, then by position), and returns an Instruction for every
// rule that matches the groups, in evaluation order.
//
// A rule that doesn't compile is skipped and evaluation continues.  The
// returned error aggregates every skipped rule's error, each wrapping
// ErrInvalidRulePattern or ErrInvalidOperation, and is returned alongside
// the instructions of the rules that did compile.
//
// Supported options: WithLogger
func ApplyRules(groups []string, rules []Rule, opt ...Option) ([]Instruction, error) {
	const op = "ApplyRules"
	opts := getOpts(opt...)
	matchers, err := compileRules(rules, opts.withLogger)
	instructions := apply(groups, matchers, opts.withLogger)
	if err != nil {
		return instructions, fmt.Errorf("%s: %w", op, err)
	}
	return instructions, nil
}

// compileRules returns matchers for the enabled rules in evaluation order.
func compileRules(rules []Rule, logger hclog.Logger) ([]*matcher, error) {
	enabled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Weight != enabled[j].Weight {
			return enabled[i].Weight < enabled[j].Weight
		}
		return enabled[i].Id < enabled[j].Id
	})

	var errs *multierror.Error
	matchers := make([]*matcher, 0, len(enabled))
	for _, r := range enabled {
		m, err := compile(r)
		if err != nil {
			logger.Warn("skipping rule", "rule_id", r.Id, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		matchers = append(matchers, m)
	}
	return matchers, errs.ErrorOrNil()
}

func apply(groups []string, matchers []*matcher, logger hclog.Logger) []Instruction {
	instructions := make([]Instruction, 0, len(matchers))
	for _, m := range matchers {
		if !m.eval(groups) {
			continue
		}
		if logger.IsTrace() {
			logger.Trace("rule matched",
				"rule_id", m.rule.Id,
				"action", m.rule.Action,
				"role", m.rule.Role,
				"operation", m.rule.Operation.Label(),
				"pattern", m.rule.Pattern,
				"groups", groups)
		}
		instructions = append(instructions, Instruction{Action: m.rule.Action, Role: m.rule.Role})
	}
	return instructions
}

// Reconcile applies the instructions in order to the current roles and
// returns the resulting roles.  A later instruction for a role overrides an
// earlier one.  Current roles keep their order and added roles are appended.
func Reconcile(current []string, instructions []Instruction) []string {
	want := make(map[string]bool, len(current))
	order := make([]string, 0, len(current)+len(instructions))
	for _, r := range current {
		if _, seen := want[r]; !seen {
			order = append(order, r)
		}
		want[r] = true
	}
	for _, in := range instructions {
		switch in.Action {
		case ActionAdd:
			if _, seen := want[in.Role]; !seen {
				order = append(order, in.Role)
			}
			want[in.Role] = true
		case ActionRemove:
			if _, seen := want[in.Role]; seen {
				want[in.Role] = false
			}
		}
	}
	roles := make([]string, 0, len(order))
	for _, r := range order {
		if want[r] {
			roles = append(roles, r)
		}
	}
	return roles
}
