// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package authz derives local authorization from token claims.

Group membership is read from a claim (ExtractGroups), optionally flattened
from paths like "/Org/Eng" into single names (SplitGroupPaths), and matched
against an ordered list of Rules.  Every matching rule yields an Instruction
to add or remove a local role.  Instructions are applied in order, so a later
instruction for a role overrides an earlier one (Reconcile).

	rules:
	  - weight: 1
	    action: add
	    role: manager
	    operation: equal
	    pattern: managers
	  - weight: 2
	    action: remove
	    role: manager
	    operation: equal
	    pattern: ex-managers

Rule evaluation is pure and safe for concurrent use.  An Engine validates and
compiles its Config once, when it's created.
*/
package authz
