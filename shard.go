// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import (
	"encoding/json"
	"strconv"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/shardwidth"
	"github.com/featurebasedb/boxes/substrate"
)

// Object and handler names. Shard instances are keyed by the decimal shard
// key (lower bound); the counter has the single key CounterKey.
const (
	ObjectShard   = "shard"
	ObjectCounter = "counter"
	CounterKey    = "0"

	MethodGet       = "get"
	MethodSet       = "set"
	MethodIncrement = "increment"
	MethodDecrement = "decrement"
	MethodGetCount  = "getCount"

	stateBits  = "bits"
	stateCount = "count"
)

// SetRequest asks a shard to set one of its bits. ID is local to the shard.
type SetRequest struct {
	ID      int64 `json:"id"`
	Checked bool  `json:"checked"`
}

// UnmarshalJSON requires both fields to be present; a missing "checked"
// must not silently mean false.
func (r *SetRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      *int64 `json:"id"`
		Checked *bool  `json:"checked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewErrValidation("decoding set request: %v", err)
	}
	if raw.ID == nil {
		return NewErrValidation("set request: id is required")
	} else if raw.Checked == nil {
		return NewErrValidation("set request: checked is required")
	}
	r.ID, r.Checked = *raw.ID, *raw.Checked
	return nil
}

// Validate checks that ID addresses a bit within one shard.
func (r SetRequest) Validate() error {
	if r.ID < 0 || r.ID >= RangeSize {
		return NewErrValidation("id %d out of range [0,%d)", r.ID, RangeSize)
	}
	return nil
}

// DecodeSetRequest decodes and validates a JSON set request. Every failure
// is a terminal validation error.
func DecodeSetRequest(data []byte) (SetRequest, error) {
	var req SetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		if !IsInvalid(err) {
			// Syntax errors never reach UnmarshalJSON.
			err = NewErrValidation("decoding set request: %v", err)
		}
		return req, err
	}
	return req, req.Validate()
}

// ParseShardKey parses a decimal shard key and checks that it is the lower
// bound of a shard.
func ParseShardKey(s string) (uint64, error) {
	lower, err := strconv.ParseUint(s, 10, 64)
	if err != nil || !shardwidth.IsLower(lower) {
		return 0, NewErrInvalidShardKey(s)
	}
	return lower, nil
}

// FormatShardKey is the inverse of ParseShardKey.
func FormatShardKey(lower uint64) string {
	return strconv.FormatUint(lower, 10)
}

// ShardObject returns the shard object. Each instance holds one Vector,
// absent until the first bit is set. The set handler relies on the runtime
// running at most one exclusive handler per key at a time; it takes no
// locks.
func ShardObject() substrate.Object {
	return substrate.Object{
		Name: ObjectShard,
		Handlers: map[string]substrate.Handler{
			MethodSet: setShard,
		},
		Shared: map[string]substrate.SharedHandler{
			MethodGet: getShard,
		},
	}
}

func readVector(get func(string) ([]byte, bool, error)) (Vector, error) {
	var v Vector
	b, ok, err := get(stateBits)
	if err != nil || !ok {
		return v, err
	}
	if err := v.UnmarshalBinary(b); err != nil {
		return v, errors.Wrap(err, "decoding shard state")
	}
	return v, nil
}

func getShard(ctx *substrate.SharedContext, _ []byte) ([]byte, error) {
	if _, err := ParseShardKey(ctx.Key()); err != nil {
		return nil, err
	}
	v, err := readVector(ctx.Get)
	if err != nil {
		return nil, err
	}
	return v.MarshalBinary()
}

// setShard sets one bit to the requested value. If that changes the vector,
// the new vector is staged along with exactly one counter adjustment, which
// the runtime sends after the vector is committed. Setting a bit to the value
// it already has is a no-op that sends nothing, so retried requests are safe.
func setShard(ctx *substrate.Context, input []byte) ([]byte, error) {
	if _, err := ParseShardKey(ctx.Key()); err != nil {
		CounterValidationRejects.Inc()
		return nil, err
	}
	req, err := DecodeSetRequest(input)
	if err != nil {
		CounterValidationRejects.Inc()
		return nil, err
	}

	v, err := readVector(ctx.Get)
	if err != nil {
		return nil, err
	}
	i := int(req.ID)
	if v.Bit(i) == req.Checked {
		CounterNoopSets.Inc()
		return v.MarshalBinary()
	}

	v = v.With(i, req.Checked)
	b, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if v.IsZero() {
		// An absent shard reads as zero, so an empty one keeps no state.
		ctx.Clear(stateBits)
	} else {
		ctx.Set(stateBits, b)
	}

	method := MethodDecrement
	if req.Checked {
		method = MethodIncrement
	}
	ctx.Send(ObjectCounter, CounterKey, method, nil)

	CounterFlips.WithLabelValues(strconv.FormatBool(req.Checked)).Inc()
	ctx.Logger().Debugf("bit %d -> %t", i, req.Checked)
	return b, nil
}
