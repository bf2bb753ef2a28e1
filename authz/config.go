// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authz

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
	"gopkg.in/yaml.v3"
)

// NoRole is the placeholder role of an unconfigured rule.
const NoRole = "NONE"

// Config maps a claim's groups to local roles.
type Config struct {
	// Enabled turns group mapping on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ClaimName is the dotted path of the groups claim.
	ClaimName string `yaml:"claim_name" json:"claim_name" validate:"required"`

	// SplitGroups flattens group paths into their segments before matching.
	SplitGroups bool `yaml:"split_groups" json:"split_groups"`

	// SplitLimit keeps only the first SplitLimit segments of a group path.
	// Zero keeps all.
	SplitLimit int `yaml:"split_groups_limit" json:"split_groups_limit" validate:"gte=0"`

	Rules []Rule `yaml:"rules" json:"rules" validate:"dive"`
}

var validate = validator.New()

// LoadConfig reads a YAML (or JSON) Config document.  See ParseConfig.
func LoadConfig(r io.Reader, opt ...Option) (*Config, error) {
	const op = "LoadConfig"
	if r == nil {
		return nil, fmt.Errorf("%s: reader is nil: %w", op, ErrNilParameter)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read config: %w", op, err)
	}
	c, err := ParseConfig(data, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// ParseConfig decodes a YAML (or JSON) Config document, then normalizes and
// validates it.  Unknown fields are an error.
//
// Supported options: WithLogger
func ParseConfig(data []byte, opt ...Option) (*Config, error) {
	const op = "ParseConfig"
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: unable to decode config: %w: %w", op, ErrInvalidConfig, err)
	}
	if err := c.Normalize(opt...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// Normalize applies the defaults once, so rules aren't reinterpreted on every
// evaluation:
//
//   - an empty ClaimName is DefaultClaimName
//   - rules without a role (or NoRole) are dropped
//   - rules that need a pattern but have a blank one are dropped
//   - empty and not_empty rules get an empty, case insensitive pattern
//   - rules without an Id get a generated one
//
// Supported options: WithLogger
func (c *Config) Normalize(opt ...Option) error {
	const op = "Config.Normalize"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	if c.ClaimName == "" {
		c.ClaimName = DefaultClaimName
	}
	rules := make([]Rule, 0, len(c.Rules))
	for i, r := range c.Rules {
		r.Role = strings.TrimSpace(r.Role)
		switch {
		case r.Role == "" || r.Role == NoRole:
			opts.withLogger.Warn("dropping rule without a role", "index", i, "rule_id", r.Id)
			continue
		case r.Operation == OpEmpty || r.Operation == OpNotEmpty:
			r.Pattern = ""
			r.CaseSensitive = false
		case strings.TrimSpace(r.Pattern) == "":
			opts.withLogger.Warn("dropping rule without a pattern", "index", i, "rule_id", r.Id)
			continue
		}
		if r.Id == "" {
			id, err := uuid.GenerateUUID()
			if err != nil {
				return fmt.Errorf("%s: unable to generate rule id: %w", op, err)
			}
			r.Id = id
		}
		rules = append(rules, r)
	}
	c.Rules = rules
	return nil
}

// Validate the config.  Every problem is reported: the error is a
// multierror whose errors wrap ErrInvalidConfig.  Patterns are not compiled;
// a rule with a bad pattern is skipped at evaluation instead.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
		}
		for _, fe := range fieldErrs {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s: %q fails %q: %w", op, fe.Namespace(), fe.Value(), fe.Tag(), ErrInvalidConfig))
		}
	}
	ids := make(map[string]int, len(c.Rules))
	for i, r := range c.Rules {
		if prev, ok := ids[r.Id]; ok && r.Id != "" {
			errs = multierror.Append(errs, fmt.Errorf("%s: rules %d and %d share id %q: %w", op, prev, i, r.Id, ErrInvalidConfig))
			continue
		}
		ids[r.Id] = i
	}
	return errs.ErrorOrNil()
}
