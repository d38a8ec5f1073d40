package scroll_test

import (
	"testing"

	"github.com/featurebasedb/boxes/scroll"
	"github.com/stretchr/testify/assert"
)

func TestBoxCount(t *testing.T) {
	for _, tt := range []struct {
		width int
		want  int
	}{
		{0, 1},
		{30, 1},
		{56, 1},
		{57, 2},
		{1000, 32},
		{1920, 64},
		{100000, 512},
	} {
		assert.Equal(t, tt.want, scroll.BoxCount(tt.width), "width %d", tt.width)
	}
}

func TestRowMapping(t *testing.T) {
	for _, tt := range []struct {
		row        uint64
		boxCount   int
		key        uint64
		start, end int
	}{
		{0, 32, 0, 0, 32},
		{15, 32, 0, 480, 512},
		{16, 32, 512, 0, 32},
		{17, 32, 512, 32, 64},
		{3, 512, 1536, 0, 512},
		{1023, 1, 512, 511, 512},
	} {
		assert.Equal(t, tt.key, scroll.RowShardKey(tt.row, tt.boxCount), "row %d", tt.row)
		start, end := scroll.RowLocalRange(tt.row, tt.boxCount)
		assert.Equal(t, tt.start, start, "row %d", tt.row)
		assert.Equal(t, tt.end, end, "row %d", tt.row)
	}
	assert.Equal(t, uint64(160), scroll.FirstRow(5120, 32))
}
