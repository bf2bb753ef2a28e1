// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// NewId generates a random ID with an optional prefix, joined by an
// underscore.  The ID generated is suitable for a session id.
func NewId(optionalPrefix string) (string, error) {
	const op = "NewId"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	if optionalPrefix != "" {
		id = fmt.Sprintf("%s_%s", optionalPrefix, id)
	}
	return id, nil
}
