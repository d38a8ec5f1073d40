// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import (
	"fmt"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/substrate"
)

const (
	ErrValidation      errors.Code = "ValidationError"
	ErrInvalidShardKey errors.Code = "InvalidShardKey"
	ErrUnauthorized    errors.Code = "Unauthorized"
	ErrRateLimited     errors.Code = "RateLimited"

	ErrUnknownHandler = substrate.ErrUnknownHandler
	ErrReadOnly       = substrate.ErrReadOnly
	ErrOutboxFull     = substrate.ErrOutboxFull
)

// The following are helper functions for constructing coded errors containing
// relevant information about the specific error. Validation errors are
// terminal: retrying the same input can never succeed.

func NewErrValidation(format string, args ...interface{}) error {
	return substrate.Terminal(errors.New(
		ErrValidation,
		fmt.Sprintf(format, args...),
	))
}

func NewErrInvalidShardKey(key string) error {
	return substrate.Terminal(errors.New(
		ErrInvalidShardKey,
		fmt.Sprintf("shard key '%s' is not a non-negative multiple of %d", key, RangeSize),
	))
}

func NewErrUnauthorized() error {
	return errors.New(ErrUnauthorized, "bearer token mismatch")
}

func NewErrRateLimited() error {
	return errors.New(ErrRateLimited, "too many writes, slow down")
}

// IsInvalid reports whether err rejects its input, as opposed to failing
// for reasons that might go away.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidShardKey)
}
