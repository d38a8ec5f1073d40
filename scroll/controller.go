package scroll

import (
	"context"
	"sync"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/client"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
)

// Config configures a Controller. Zero values take the package defaults.
type Config struct {
	Cache *client.WindowCache

	Width     int
	BoxWidth  int
	Margin    int
	RowHeight int
	Overscan  int

	Logger logger.Logger
}

// Row is one rendered row.
type Row struct {
	Index  uint64
	Key    uint64
	Start  int
	Boxes  []bool
	Loaded bool
}

// Controller maps scroll position onto rows and keeps the window cache
// loaded around them. It fetches at most one page in each direction at a
// time.
type Controller struct {
	mu sync.Mutex

	cache     *client.WindowCache
	boxWidth  int
	margin    int
	rowHeight int
	overscan  int
	boxCount  int

	first, last uint64
	ready       bool

	fetchingForward  bool
	fetchingBackward bool
	fetches          sync.WaitGroup

	logger logger.Logger
}

// NewController returns a Controller over cfg.Cache.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cache:     cfg.Cache,
		boxWidth:  DefaultBoxWidth,
		margin:    DefaultMargin,
		rowHeight: DefaultRowHeight,
		overscan:  DefaultOverscan,
		logger:    logger.NopLogger,
	}
	if cfg.BoxWidth > 0 {
		c.boxWidth = cfg.BoxWidth
	}
	if cfg.Margin > 0 {
		c.margin = cfg.Margin
	}
	if cfg.RowHeight > 0 {
		c.rowHeight = cfg.RowHeight
	}
	if cfg.Overscan > 0 {
		c.overscan = cfg.Overscan
	}
	if cfg.Logger != nil {
		c.logger = cfg.Logger
	}
	c.boxCount = boxCount(cfg.Width, c.boxWidth, c.margin)
	return c
}

// SetWidth changes the viewport width, which changes the number of boxes per
// row. Call Update afterwards; row indexes change meaning.
func (c *Controller) SetWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boxCount = boxCount(width, c.boxWidth, c.margin)
	c.ready = false
}

// BoxCount returns the number of boxes per row.
func (c *Controller) BoxCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boxCount
}

// VisibleRows returns the inclusive range of rows computed by the last
// Update, overscan included.
func (c *Controller) VisibleRows() (first, last uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first, c.last, c.ready
}

// Update recomputes the visible rows for a scroll offset and viewport height,
// both in pixels, and starts fetching the next or previous page when the
// visible rows come within a row of either end of what is loaded. Fetches
// run in the background under ctx; use Wait to wait for them.
func (c *Controller) Update(ctx context.Context, offset, viewport int) {
	if offset < 0 {
		offset = 0
	}
	if viewport < 1 {
		viewport = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.cache.Keys()
	if len(keys) == 0 {
		c.fetchLocked(ctx, 0, client.DirectionForward)
		return
	}
	minRow := FirstRow(keys[0], c.boxCount)
	endRow := FirstRow(keys[len(keys)-1]+boxes.RangeSize, c.boxCount)

	first := uint64(offset / c.rowHeight)
	last := uint64((offset + viewport - 1) / c.rowHeight)
	if first > uint64(c.overscan) {
		first -= uint64(c.overscan)
	} else {
		first = 0
	}
	last += uint64(c.overscan)
	// One placeholder row past the loaded rows stands for the next page.
	if last > endRow {
		last = endRow
	}
	if first > last {
		first = last
	}
	c.first, c.last, c.ready = first, last, true

	c.cache.SetVisible(RowShardKey(first, c.boxCount), RowShardKey(last, c.boxCount))

	if last+1 >= endRow {
		c.fetchLocked(ctx, keys[len(keys)-1]+boxes.RangeSize, client.DirectionForward)
	}
	if first <= minRow+1 && keys[0] > 0 {
		c.fetchLocked(ctx, keys[0]-boxes.RangeSize, client.DirectionBackward)
	}
}

// fetchLocked starts fetching key unless a fetch in the same direction is
// already running. fetchLocked requires c.mu.
func (c *Controller) fetchLocked(ctx context.Context, key uint64, dir client.Direction) {
	flag := &c.fetchingForward
	if dir == client.DirectionBackward {
		flag = &c.fetchingBackward
	}
	if *flag {
		return
	}
	*flag = true

	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()
		if _, err := c.cache.FetchPage(ctx, key, dir); err != nil {
			c.logger.Printf("fetching page %d: %v", key, err)
		}
		c.mu.Lock()
		*flag = false
		c.mu.Unlock()
	}()
}

// Wait blocks until no fetches started by Update are running.
func (c *Controller) Wait() {
	c.fetches.Wait()
}

// Rows returns the rows computed by the last Update with their boxes. Rows
// whose page isn't cached are returned with Loaded false and no boxes.
func (c *Controller) Rows() []Row {
	c.mu.Lock()
	first, last, ready, n := c.first, c.last, c.ready, c.boxCount
	c.mu.Unlock()
	if !ready {
		return nil
	}

	rows := make([]Row, 0, last-first+1)
	for r := first; r <= last; r++ {
		key := RowShardKey(r, n)
		start, end := RowLocalRange(r, n)
		row := Row{Index: r, Key: key, Start: start}
		if page, ok := c.cache.Page(key); ok && page.State != client.PageLoading {
			row.Loaded = true
			row.Boxes = make([]bool, 0, n)
			for i := start; i < end; i++ {
				row.Boxes = append(row.Boxes, page.Bits.Bit(i))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Toggle flips box i of row through the window cache.
func (c *Controller) Toggle(ctx context.Context, row uint64, i int) error {
	n := c.BoxCount()
	if i < 0 || i >= n {
		return boxes.NewErrValidation("box %d out of range [0,%d)", i, n)
	}
	key := RowShardKey(row, n)
	start, _ := RowLocalRange(row, n)
	page, ok := c.cache.Page(key)
	if !ok {
		return errors.Wrapf(client.NewErrPageNotLoaded(key), "toggling row %d", row)
	}
	return c.cache.Toggle(ctx, key, start+i, !page.Bits.Bit(start+i))
}
