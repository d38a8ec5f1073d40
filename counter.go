// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import (
	"encoding/binary"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/substrate"
)

// CounterObject returns the aggregate counter object. Its one instance,
// CounterKey, approximates the number of set bits across all shards. It is
// adjusted by messages which may be lost or repeated, so it can drift; it is
// never allowed below zero.
func CounterObject() substrate.Object {
	return substrate.Object{
		Name: ObjectCounter,
		Handlers: map[string]substrate.Handler{
			MethodIncrement: incrementCounter,
			MethodDecrement: decrementCounter,
		},
		Shared: map[string]substrate.SharedHandler{
			MethodGetCount: getCount,
		},
	}
}

func encodeCount(n int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return b
}

func decodeCount(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	} else if len(b) != 8 {
		return 0, errors.Errorf("count encoding is %d bytes, expected 8", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func readCount(get func(string) ([]byte, bool, error)) (int64, error) {
	b, _, err := get(stateCount)
	if err != nil {
		return 0, err
	}
	n, err := decodeCount(b)
	return n, errors.Wrap(err, "decoding counter state")
}

func incrementCounter(ctx *substrate.Context, _ []byte) ([]byte, error) {
	n, err := readCount(ctx.Get)
	if err != nil {
		return nil, err
	}
	n++
	ctx.Set(stateCount, encodeCount(n))
	CounterCounterAdjustments.WithLabelValues(MethodIncrement).Inc()
	return encodeCount(n), nil
}

func decrementCounter(ctx *substrate.Context, _ []byte) ([]byte, error) {
	n, err := readCount(ctx.Get)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		// A lost increment or a duplicated decrement got here first.
		CounterCounterClamps.Inc()
		ctx.Logger().Infof("decrement of zero counter clamped")
		n = 0
	} else {
		n--
	}
	ctx.Set(stateCount, encodeCount(n))
	CounterCounterAdjustments.WithLabelValues(MethodDecrement).Inc()
	return encodeCount(n), nil
}

func getCount(ctx *substrate.SharedContext, _ []byte) ([]byte, error) {
	n, err := readCount(ctx.Get)
	if err != nil {
		return nil, err
	}
	return encodeCount(n), nil
}
