// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import (
	"context"
	"encoding/json"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/shardwidth"
	"github.com/featurebasedb/boxes/substrate"
)

// Store routes bit ids to the shard holding them. Shards need no
// registration; any shard key can be addressed.
type Store struct {
	rt *substrate.Runtime
}

// NewStore binds the shard and counter objects to rt and returns a Store
// which invokes them.
func NewStore(rt *substrate.Runtime) *Store {
	rt.Bind(ShardObject())
	rt.Bind(CounterObject())
	return &Store{rt: rt}
}

// RouteGet returns the vector of the shard holding id.
func (s *Store) RouteGet(ctx context.Context, id uint64) (Vector, error) {
	return s.GetRange(ctx, shardwidth.Lower(id))
}

// RouteSet sets bit id and returns the resulting vector of its shard.
func (s *Store) RouteSet(ctx context.Context, id uint64, checked bool) (Vector, error) {
	return s.SetRange(ctx, shardwidth.Lower(id), int64(shardwidth.Offset(id)), checked)
}

// RouteSend is RouteSet without waiting for, or learning, the outcome.
func (s *Store) RouteSend(ctx context.Context, id uint64, checked bool) error {
	return s.SendRange(ctx, shardwidth.Lower(id), int64(shardwidth.Offset(id)), checked)
}

// GetRange returns the vector of the shard whose lower bound is lower. A shard
// which was never written reads as the zero vector.
func (s *Store) GetRange(ctx context.Context, lower uint64) (Vector, error) {
	if !shardwidth.IsLower(lower) {
		return Vector{}, NewErrInvalidShardKey(FormatShardKey(lower))
	}
	out, err := s.rt.InvokeShared(ctx, ObjectShard, FormatShardKey(lower), MethodGet, nil)
	if err != nil {
		return Vector{}, errors.Wrapf(err, "getting shard %d", lower)
	}
	var v Vector
	return v, v.UnmarshalBinary(out)
}

// SetRange sets bit localID of shard lower and returns the shard's vector
// afterwards.
func (s *Store) SetRange(ctx context.Context, lower uint64, localID int64, checked bool) (Vector, error) {
	input, err := s.setInput(lower, localID, checked)
	if err != nil {
		return Vector{}, err
	}
	out, err := s.rt.Invoke(ctx, ObjectShard, FormatShardKey(lower), MethodSet, input)
	if err != nil {
		return Vector{}, errors.Wrapf(err, "setting shard %d", lower)
	}
	var v Vector
	return v, v.UnmarshalBinary(out)
}

// SendRange queues SetRange and returns once the request is validated and
// queued. The write may be lost or applied more than once; since sets are
// absolute rather than toggles, applying one twice is harmless.
func (s *Store) SendRange(ctx context.Context, lower uint64, localID int64, checked bool) error {
	input, err := s.setInput(lower, localID, checked)
	if err != nil {
		return err
	}
	return errors.Wrapf(
		s.rt.Send(ctx, ObjectShard, FormatShardKey(lower), MethodSet, input),
		"sending to shard %d", lower,
	)
}

// setInput validates a set up front so callers get a validation error
// rather than a silently dropped message.
func (s *Store) setInput(lower uint64, localID int64, checked bool) ([]byte, error) {
	if !shardwidth.IsLower(lower) {
		CounterValidationRejects.Inc()
		return nil, NewErrInvalidShardKey(FormatShardKey(lower))
	}
	req := SetRequest{ID: localID, Checked: checked}
	if err := req.Validate(); err != nil {
		CounterValidationRejects.Inc()
		return nil, err
	}
	return json.Marshal(req)
}

// Count returns the aggregate counter.
func (s *Store) Count(ctx context.Context) (int64, error) {
	out, err := s.rt.InvokeShared(ctx, ObjectCounter, CounterKey, MethodGetCount, nil)
	if err != nil {
		return 0, errors.Wrap(err, "getting count")
	}
	return decodeCount(out)
}
