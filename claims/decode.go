// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode isolates the payload segment of a compact token
// (<header>.<payload>.<signature>), reverses its URL-safe base64 encoding
// and parses it as a JSON object. Padded and unpadded encodings are both
// accepted.
//
// Every failure wraps ErrMalformedToken.
func Decode(token string) (Set, error) {
	const op = "claims.Decode"
	raw, err := payload(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var s Set
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: payload is not a JSON object: %w: %s", op, ErrMalformedToken, err.Error())
	}
	if s == nil {
		return nil, fmt.Errorf("%s: payload is null: %w", op, ErrMalformedToken)
	}
	return s, nil
}

// Unmarshal decodes the token's payload into v, which may be any value
// accepted by json.Unmarshal (typically a struct with json tags or a
// map[string]interface{}).
func Unmarshal(token string, v interface{}) error {
	const op = "claims.Unmarshal"
	if v == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	raw, err := payload(token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: unable to unmarshal payload: %w: %s", op, ErrMalformedToken, err.Error())
	}
	return nil
}

func payload(token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty: %w", ErrMalformedToken)
	}
	if n := strings.Count(token, "."); n != 2 {
		return nil, fmt.Errorf("token has %d separators, wanted 2: %w", n, ErrMalformedToken)
	}
	parts := strings.SplitN(token, ".", 3)
	seg := strings.TrimRight(parts[1], "=")
	if seg == "" {
		return nil, fmt.Errorf("payload segment is empty: %w", ErrMalformedToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("payload is not valid base64url: %w: %s", ErrMalformedToken, err.Error())
	}
	return raw, nil
}
