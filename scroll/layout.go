// Package scroll presents the bit array as an endless list of rows of boxes
// and drives the client window cache from scroll position.
package scroll

import (
	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/shardwidth"
)

const (
	// DefaultBoxWidth is the width in pixels of one box.
	DefaultBoxWidth = 20
	// DefaultMargin is the horizontal space in pixels not available to boxes.
	DefaultMargin = 16
	// DefaultRowHeight is the height in pixels of one row.
	DefaultRowHeight = 20
	// DefaultOverscan is the number of rows kept beyond each edge of the
	// viewport.
	DefaultOverscan = 2
)

// BoxCount returns the number of boxes per row for a viewport width in
// pixels, using the default box width and margin.
func BoxCount(width int) int {
	return boxCount(width, DefaultBoxWidth, DefaultMargin)
}

// boxCount returns the largest power of two n with n*boxWidth < width-margin,
// clamped to [1, RangeSize]. Row widths are powers of two so that rows never
// straddle shards.
func boxCount(width, boxWidth, margin int) int {
	n := 1
	for n*boxWidth < width-margin && n < boxes.RangeSize*2 {
		n *= 2
	}
	n /= 2
	if n < 1 {
		return 1
	} else if n > boxes.RangeSize {
		return boxes.RangeSize
	}
	return n
}

// RowShardKey returns the key of the shard holding row.
func RowShardKey(row uint64, boxCount int) uint64 {
	return shardwidth.Lower(row * uint64(boxCount))
}

// RowLocalRange returns the half-open range of ids within the row's shard
// which the row displays.
func RowLocalRange(row uint64, boxCount int) (start, end int) {
	start = int(shardwidth.Offset(row * uint64(boxCount)))
	return start, start + boxCount
}

// FirstRow returns the first row of the shard with the given key.
func FirstRow(key uint64, boxCount int) uint64 {
	return key / uint64(boxCount)
}
