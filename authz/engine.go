// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/idbroker/claims"
	"github.com/hashicorp/idbroker/session"
)

// Engine derives role instructions from claims with a fixed Config.  It's
// safe for concurrent use.
type Engine struct {
	config   Config
	matchers []*matcher
	// compileErr aggregates the rules that were skipped.
	compileErr error
	logger     hclog.Logger
}

// NewEngine validates the config and compiles its enabled rules.  Rules whose
// pattern doesn't compile are skipped (and logged); the error is kept and
// returned by Instructions alongside the instructions of the remaining rules.
//
// Supported options: WithLogger
func NewEngine(c *Config, opt ...Option) (*Engine, error) {
	const op = "NewEngine"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	cp := *c
	cp.Rules = append([]Rule(nil), c.Rules...)
	e := &Engine{
		config: cp,
		logger: opts.withLogger,
	}
	e.matchers, e.compileErr = compileRules(cp.Rules, e.logger)
	return e, nil
}

// Enabled reports whether group mapping is on.
func (e *Engine) Enabled() bool { return e.config.Enabled }

// Groups returns the groups the rules are matched against: the configured
// claim, split into segments when SplitGroups is set.
func (e *Engine) Groups(c claims.Set) []string {
	groups := ExtractGroups(c, e.config.ClaimName)
	if e.config.SplitGroups && len(groups) > 0 {
		groups = SplitGroupPaths(groups, e.config.SplitLimit)
	}
	return groups
}

// Instructions returns the ordered role instructions for the claims.  It's
// empty when the engine is disabled.  A non-nil error reports rules that were
// skipped; the instructions are still valid.
func (e *Engine) Instructions(c claims.Set) ([]Instruction, error) {
	const op = "Engine.Instructions"
	if !e.config.Enabled {
		return []Instruction{}, nil
	}
	instructions := apply(e.Groups(c), e.matchers, e.logger)
	if e.compileErr != nil {
		return instructions, fmt.Errorf("%s: %w", op, e.compileErr)
	}
	return instructions, nil
}

// TargetRoles returns the roles that result from applying the claims'
// instructions to the current roles.
func (e *Engine) TargetRoles(current []string, c claims.Set) ([]string, error) {
	instructions, err := e.Instructions(c)
	return Reconcile(current, instructions), err
}

// Reconciler applies role instructions to a subject's local account.
type Reconciler interface {
	Reconcile(ctx context.Context, subject string, instructions []Instruction) error
}

// ReconcilerFunc adapts a func to a Reconciler.
type ReconcilerFunc func(ctx context.Context, subject string, instructions []Instruction) error

// Reconcile calls f.
func (f ReconcilerFunc) Reconcile(ctx context.Context, subject string, instructions []Instruction) error {
	return f(ctx, subject, instructions)
}

// RoleSync hands an Engine's instructions to a Reconciler after every sign in
// and token refresh of a session.Manager.
type RoleSync struct {
	engine     *Engine
	reconciler Reconciler
	logger     hclog.Logger
}

var _ session.RoleSyncer = (*RoleSync)(nil)

// NewRoleSync creates a RoleSync.
//
// Supported options: WithLogger
func NewRoleSync(e *Engine, r Reconciler, opt ...Option) (*RoleSync, error) {
	const op = "NewRoleSync"
	switch {
	case e == nil:
		return nil, fmt.Errorf("%s: engine is nil: %w", op, ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: reconciler is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &RoleSync{
		engine:     e,
		reconciler: r,
		logger:     opts.withLogger,
	}, nil
}

// SyncRoles reconciles the subject's roles with the instructions derived from
// the claims.  Nothing is reconciled when the engine is disabled.  Skipped
// rules are logged, not returned.
func (s *RoleSync) SyncRoles(ctx context.Context, subject string, c claims.Set) error {
	const op = "RoleSync.SyncRoles"
	if subject == "" {
		return fmt.Errorf("%s: missing subject: %w", op, ErrInvalidParameter)
	}
	if !s.engine.Enabled() {
		return nil
	}
	instructions, err := s.engine.Instructions(c)
	if err != nil {
		s.logger.Warn("some rules were skipped", "subject", subject, "error", err)
	}
	if err := s.reconciler.Reconcile(ctx, subject, instructions); err != nil {
		return fmt.Errorf("%s: unable to reconcile roles for %q: %w", op, subject, err)
	}
	s.logger.Debug("roles synced", "subject", subject, "instructions", len(instructions))
	return nil
}
