// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardwidth

import (
	"math/bits"
)

// Exponent controls the size of each shard.
//
// # Warnings
// - changing this value WILL corrupt any data sets created with a different value **
// - both server and client must be compiled with the same Exponent **
const Exponent = 9

// Width is the number of bit ids held by one shard.
const Width = 1 << Exponent

const offsetMask = Width - 1

// Shard returns the shard number holding id.
func Shard(id uint64) uint64 { return id >> Exponent }

// Lower returns the lowest id of the shard holding id. Lower bounds are used
// as shard keys everywhere outside this package.
func Lower(id uint64) uint64 { return id &^ offsetMask }

// Offset returns the position of id within its shard.
func Offset(id uint64) uint64 { return id & offsetMask }

// IsLower reports whether key is a valid shard key.
func IsLower(key uint64) bool { return key&offsetMask == 0 }

// FindNextShard returns the index of the first item which is not in the
// same shard as haystack[i]. haystack must be sorted. The index it returns may
// be equal to the length of the haystack, indicating that the rest of the
// list is in the same shard.
func FindNextShard(i int, haystack []uint64) int {
	if i >= len(haystack) {
		return i
	}
	shard := haystack[i] >> Exponent
	shardEnd := ((shard + 1) << Exponent) - 1
	j := i
	// Binary search from the top bit of the remaining length down; this is
	// as many steps as a halving search and avoids sort.Search's overhead.
	for incr := 1 << (bits.Len64(uint64(len(haystack) - i))); incr > 0; incr >>= 1 {
		if j+incr < len(haystack) {
			if haystack[j+incr] <= shardEnd {
				j += incr
			}
		}
	}
	return j + 1
}

// FindShards splits a sorted haystack into runs by shard. It returns the
// shard key (lower bound) of each run and the index one past its end.
func FindShards(haystack []uint64) (lowers []uint64, endIndexes []int) {
	if len(haystack) == 0 {
		return nil, nil
	}
	index := 0
	for index < len(haystack) {
		lowers = append(lowers, Lower(haystack[index]))
		index = FindNextShard(index, haystack)
		endIndexes = append(endIndexes, index)
	}
	return lowers, endIndexes
}
