// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

// Operation is how a Rule's pattern is matched against groups.
type Operation string

const (
	OpEqual         Operation = "equal"
	OpNotEqual      Operation = "not_equal"
	OpStartsWith    Operation = "starts_with"
	OpStartsNotWith Operation = "starts_not_with"
	OpEndsWith      Operation = "ends_with"
	OpEndsNotWith   Operation = "ends_not_with"
	OpContains      Operation = "contains"
	OpContainsNot   Operation = "contains_not"
	OpEmpty         Operation = "empty"
	OpNotEmpty      Operation = "not_empty"
	OpRegex         Operation = "regex"
	OpNotRegex      Operation = "not_regex"
)

var operationLabels = map[Operation]string{
	OpEqual:         "exact match",
	OpNotEqual:      "no match",
	OpStartsWith:    "starts with",
	OpStartsNotWith: "starts not with",
	OpEndsWith:      "ends with",
	OpEndsNotWith:   "ends not with",
	OpContains:      "contains",
	OpContainsNot:   "contains not",
	OpEmpty:         "no groups given",
	OpNotEmpty:      "any group given",
	OpRegex:         "regex match",
	OpNotRegex:      "no regex match",
}

// Operations returns every supported Operation.
func Operations() []Operation {
	return []Operation{
		OpEqual, OpNotEqual,
		OpStartsWith, OpStartsNotWith,
		OpEndsWith, OpEndsNotWith,
		OpContains, OpContainsNot,
		OpEmpty, OpNotEmpty,
		OpRegex, OpNotRegex,
	}
}

// Valid reports whether o is a supported Operation.
func (o Operation) Valid() bool {
	_, ok := operationLabels[o]
	return ok
}

// Label is a human readable description of the operation.
func (o Operation) Label() string {
	if l, ok := operationLabels[o]; ok {
		return l
	}
	return string(o)
}

// Negated reports whether the operation holds when no group matches.
func (o Operation) Negated() bool {
	switch o {
	case OpNotEqual, OpStartsNotWith, OpEndsNotWith, OpContainsNot, OpNotRegex:
		return true
	default:
		return false
	}
}

// Literal reports whether the operation matches its pattern as a literal
// string rather than a regular expression.
func (o Operation) Literal() bool {
	return o != OpRegex && o != OpNotRegex
}

// Action is what a matching Rule does to its role.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Rule maps group membership to a local role grant or revocation.
type Rule struct {
	// Id identifies the rule.  Rules of equal Weight are evaluated in Id
	// order.
	Id string `yaml:"id" json:"id" validate:"required"`

	// Weight orders evaluation, lightest first.
	Weight int `yaml:"weight" json:"weight"`

	Role          string    `yaml:"role" json:"role" validate:"required"`
	Action        Action    `yaml:"action" json:"action" validate:"oneof=add remove"`
	Operation     Operation `yaml:"operation" json:"operation" validate:"oneof=equal not_equal starts_with starts_not_with ends_with ends_not_with contains contains_not empty not_empty regex not_regex"`
	Pattern       string    `yaml:"pattern" json:"pattern"`
	CaseSensitive bool      `yaml:"case_sensitive" json:"case_sensitive"`
	Enabled       bool      `yaml:"enabled" json:"enabled"`
}

// Instruction is an ordered role change produced by a matching Rule.
type Instruction struct {
	Action Action `json:"action"`
	Role   string `json:"role"`
}
