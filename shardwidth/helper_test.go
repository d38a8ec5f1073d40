// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardwidth_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/featurebasedb/boxes/shardwidth"
	"github.com/stretchr/testify/assert"
)

func TestRouting(t *testing.T) {
	tests := []struct {
		id, shard, lower, offset uint64
	}{
		{0, 0, 0, 0},
		{5, 0, 0, 5},
		{511, 0, 0, 511},
		{512, 1, 512, 0},
		{1030, 2, 1024, 6},
		{1<<40 + 3, 1 << 31, 1 << 40, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.shard, shardwidth.Shard(tt.id), "shard of %d", tt.id)
		assert.Equal(t, tt.lower, shardwidth.Lower(tt.id), "lower of %d", tt.id)
		assert.Equal(t, tt.offset, shardwidth.Offset(tt.id), "offset of %d", tt.id)
		assert.True(t, shardwidth.IsLower(tt.lower))
	}
	assert.False(t, shardwidth.IsLower(513))
}

func TestFindShards(t *testing.T) {
	tests := []struct {
		name     string
		haystack []uint64
		lowers   []uint64
		ends     []int
	}{
		{name: "empty"},
		{name: "all-in-one", haystack: []uint64{0, 1, 511}, lowers: []uint64{0}, ends: []int{3}},
		{name: "split", haystack: []uint64{0, 512}, lowers: []uint64{0, 512}, ends: []int{1, 2}},
		{name: "gap", haystack: []uint64{3, 4, 2048, 2049, 5000}, lowers: []uint64{0, 2048, 4608}, ends: []int{2, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lowers, ends := shardwidth.FindShards(tt.haystack)
			assert.Equal(t, tt.lowers, lowers)
			assert.Equal(t, tt.ends, ends)
		})
	}
}

func TestFindShards_Random(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	haystack := make([]uint64, 1000)
	for i := range haystack {
		haystack[i] = uint64(r.Intn(64 * shardwidth.Width))
	}
	sort.Slice(haystack, func(i, j int) bool { return haystack[i] < haystack[j] })

	lowers, ends := shardwidth.FindShards(haystack)
	start := 0
	for i, end := range ends {
		for _, id := range haystack[start:end] {
			assert.Equal(t, lowers[i], shardwidth.Lower(id))
		}
		start = end
	}
	assert.Equal(t, len(haystack), start)
}
