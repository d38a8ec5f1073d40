// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boxes

import (
	"encoding/binary"
	"math/big"
	"math/bits"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/shardwidth"
)

// RangeSize is the number of bits held by one shard.
const RangeSize = shardwidth.Width

const vectorWords = RangeSize / 64

// VectorSize is the length of a Vector's binary encoding.
const VectorSize = vectorWords * 8

// Vector is the bitmap of one shard: bit i corresponds to id lower+i. The zero
// value has every bit clear. Vectors are values; With returns a modified copy.
type Vector [vectorWords]uint64

// Bit reports whether bit i is set. It panics if i is out of range.
func (v Vector) Bit(i int) bool {
	return v[i>>6]&(1<<(uint(i)&63)) != 0
}

// With returns a copy of v with bit i set to b.
func (v Vector) With(i int, b bool) Vector {
	if b {
		v[i>>6] |= 1 << (uint(i) & 63)
	} else {
		v[i>>6] &^= 1 << (uint(i) & 63)
	}
	return v
}

// Count returns the number of set bits.
func (v Vector) Count() (n int) {
	for _, w := range v {
		n += bits.OnesCount64(w)
	}
	return n
}

// IsZero reports whether no bit is set.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// Int returns the non-negative integer whose bit i is bit i of v.
func (v Vector) Int() *big.Int {
	var buf [VectorSize]byte
	for i, w := range v {
		binary.BigEndian.PutUint64(buf[(vectorWords-1-i)*8:], w)
	}
	return new(big.Int).SetBytes(buf[:])
}

// String returns the decimal form of v.Int(), which is how vectors travel
// over HTTP. The empty vector is "0".
func (v Vector) String() string {
	return v.Int().String()
}

// ParseVector parses the decimal form produced by String.
func ParseVector(s string) (Vector, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Vector{}, NewErrValidation("invalid vector %q", s)
	}
	return VectorFromInt(n)
}

// VectorFromInt returns the vector whose bits are those of n. n must be in
// [0, 2^RangeSize).
func VectorFromInt(n *big.Int) (Vector, error) {
	if n.Sign() < 0 {
		return Vector{}, NewErrValidation("vector must not be negative")
	} else if n.BitLen() > RangeSize {
		return Vector{}, NewErrValidation("vector wider than %d bits", RangeSize)
	}
	var buf [VectorSize]byte
	n.FillBytes(buf[:])
	var v Vector
	for i := range v {
		v[i] = binary.BigEndian.Uint64(buf[(vectorWords-1-i)*8:])
	}
	return v, nil
}

// MarshalBinary encodes v as its words in little-endian order.
func (v Vector) MarshalBinary() ([]byte, error) {
	buf := make([]byte, VectorSize)
	for i, w := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return buf, nil
}

// UnmarshalBinary decodes the encoding produced by MarshalBinary. An empty
// slice decodes as the zero vector.
func (v *Vector) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*v = Vector{}
		return nil
	} else if len(data) != VectorSize {
		return errors.Errorf("vector encoding is %d bytes, expected %d", len(data), VectorSize)
	}
	for i := range v {
		v[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler using the decimal form.
func (v Vector) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Vector) UnmarshalText(text []byte) error {
	p, err := ParseVector(string(text))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
