// Package client keeps a bounded, ordered window of shard pages fetched from
// a boxes server, applies local edits optimistically, and reconciles them
// with the server.
package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/shardwidth"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	ErrPageNotLoaded errors.Code = "PageNotLoaded"

	// DefaultMaxPages is the default cap on cached pages.
	DefaultMaxPages = 10

	// DefaultFetchTimeout bounds a single backend read of a page.
	DefaultFetchTimeout = 10 * time.Second
)

func NewErrPageNotLoaded(key uint64) error {
	return errors.New(
		ErrPageNotLoaded,
		"page "+strconv.FormatUint(key, 10)+" is not loaded",
	)
}

// Backend is the server a WindowCache talks to. Both *http.Client and
// *boxes.Store implement it.
type Backend interface {
	GetRange(ctx context.Context, lower uint64) (boxes.Vector, error)
	SetRange(ctx context.Context, lower uint64, localID int64, checked bool) (boxes.Vector, error)
	SendRange(ctx context.Context, lower uint64, localID int64, checked bool) error
	Count(ctx context.Context) (int64, error)
}

// PageState is where a page is in its life cycle:
// absent -> loading -> loaded -> stale (refetching) -> loaded.
type PageState int

const (
	PageLoading PageState = iota + 1
	PageLoaded
	PageStale
)

func (s PageState) String() string {
	switch s {
	case PageLoading:
		return "loading"
	case PageLoaded:
		return "loaded"
	case PageStale:
		return "stale"
	default:
		return "absent"
	}
}

// Page is one cached shard. Pages are never modified once they are in the
// cache; changes replace them.
type Page struct {
	Key       uint64
	Bits      boxes.Vector
	State     PageState
	FetchedAt time.Time
}

// Direction is the direction of travel which caused a fetch. Eviction favors
// keeping pages in the direction of travel.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionForward
	DirectionBackward
)

// WriteMode selects how Toggle writes to the backend.
type WriteMode int

const (
	// WriteSync waits for the server to apply the write.
	WriteSync WriteMode = iota
	// WriteSend only waits for the server to queue the write.
	WriteSend
)

// Config configures a WindowCache.
type Config struct {
	Backend   Backend
	MaxPages  int
	WriteMode WriteMode
	Logger    logger.Logger

	// FetchTimeout bounds each backend read of a page. Defaults to
	// DefaultFetchTimeout.
	FetchTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

type uint64Comparer struct{}

func (uint64Comparer) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// WindowCache holds up to MaxPages pages in key order along with the
// server's count. All state is guarded by one mutex; backend calls are made
// without holding it.
type WindowCache struct {
	mu    sync.Mutex
	pages *immutable.SortedMap[uint64, *Page]
	count int64

	visible    bool
	visibleLo  uint64
	visibleHi  uint64
	epochs     map[uint64]uint64
	countEpoch uint64

	group singleflight.Group

	backend      Backend
	maxPages     int
	writeMode    WriteMode
	fetchTimeout time.Duration
	now          func() time.Time
	logger       logger.Logger
}

// NewWindowCache returns an empty cache. cfg.Backend is required.
func NewWindowCache(cfg Config) *WindowCache {
	c := &WindowCache{
		pages:    immutable.NewSortedMap[uint64, *Page](uint64Comparer{}),
		epochs:   make(map[uint64]uint64),
		backend:      cfg.Backend,
		maxPages:     DefaultMaxPages,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       logger.NopLogger,
	}
	if cfg.MaxPages > 0 {
		c.maxPages = cfg.MaxPages
	}
	if cfg.FetchTimeout > 0 {
		c.fetchTimeout = cfg.FetchTimeout
	}
	c.writeMode = cfg.WriteMode
	if cfg.Now != nil {
		c.now = cfg.Now
	}
	if cfg.Logger != nil {
		c.logger = cfg.Logger
	}
	return c
}

// SetVisible records the inclusive range of shard keys on screen. Pages in
// that range are never evicted.
func (c *WindowCache) SetVisible(lo, hi uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hi < lo {
		lo, hi = hi, lo
	}
	c.visible, c.visibleLo, c.visibleHi = true, lo, hi
}

// Page returns the cached page for key.
func (c *WindowCache) Page(key uint64) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages.Get(key)
}

// Pages returns the cached pages in key order.
func (c *WindowCache) Pages() []*Page {
	c.mu.Lock()
	pages := c.pages
	c.mu.Unlock()
	return pageSlice(pages)
}

func pageSlice(m *immutable.SortedMap[uint64, *Page]) []*Page {
	out := make([]*Page, 0, m.Len())
	itr := m.Iterator()
	for !itr.Done() {
		_, p, _ := itr.Next()
		out = append(out, p)
	}
	return out
}

// Keys returns the keys of the cached pages in order.
func (c *WindowCache) Keys() []uint64 {
	pages := c.Pages()
	keys := make([]uint64, len(pages))
	for i, p := range pages {
		keys[i] = p.Key
	}
	return keys
}

// Count returns the cached count.
func (c *WindowCache) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// FetchPage loads the page for key from the backend and caches it. Concurrent
// fetches of one key share a single request, which outlives any one caller
// giving up on it. A fetch which started before
// an optimistic change to the page doesn't overwrite it; the page as it
// stands is returned instead.
func (c *WindowCache) FetchPage(ctx context.Context, key uint64, dir Direction) (*Page, error) {
	if !shardwidth.IsLower(key) {
		return nil, boxes.NewErrInvalidShardKey(boxes.FormatShardKey(key))
	}

	c.mu.Lock()
	epoch := c.epochs[key]
	prev, hadPrev := c.pages.Get(key)
	if !hadPrev {
		c.pages = c.pages.Set(key, &Page{Key: key, State: PageLoading})
	} else if prev.State == PageLoaded {
		stale := *prev
		stale.State = PageStale
		c.pages = c.pages.Set(key, &stale)
	}
	c.mu.Unlock()

	// Every caller fetching key joins one request, so it runs on a context
	// of its own; each caller stops waiting when its own ctx is done.
	ch := c.group.DoChan(strconv.FormatUint(key, 10), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()
		return c.backend.GetRange(fctx, key)
	})
	var (
		res interface{}
		err error
	)
	select {
	case r := <-ch:
		res, err = r.Val, r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.pages.Get(key)
	if err != nil {
		// Put things back the way they were, unless someone else already
		// changed them.
		if ok && c.epochs[key] == epoch {
			switch cur.State {
			case PageLoading:
				c.pages = c.pages.Delete(key)
			case PageStale:
				loaded := *cur
				loaded.State = PageLoaded
				c.pages = c.pages.Set(key, &loaded)
			}
		}
		return nil, errors.Wrapf(err, "fetching page %d", key)
	}

	if c.epochs[key] != epoch {
		c.logger.Debugf("discarding fetch of page %d which predates a local change", key)
		if ok && cur.State == PageStale {
			loaded := *cur
			loaded.State = PageLoaded
			cur = &loaded
			c.pages = c.pages.Set(key, cur)
		}
		if ok {
			return cur, nil
		}
		return nil, NewErrPageNotLoaded(key)
	}

	page := &Page{
		Key:       key,
		Bits:      res.(boxes.Vector),
		State:     PageLoaded,
		FetchedAt: c.now(),
	}
	c.pages = c.pages.Set(key, page)
	c.evict(key, dir)
	return page, nil
}

// distance returns how far key is from the visible range, or from anchor if
// nothing is visible. Keys in the visible range are at distance zero.
func (c *WindowCache) distance(key, anchor uint64) uint64 {
	lo, hi := anchor, anchor
	if c.visible {
		lo, hi = c.visibleLo, c.visibleHi
	}
	switch {
	case key < lo:
		return lo - key
	case key > hi:
		return key - hi
	}
	return 0
}

// evict drops pages until at most maxPages remain. It drops the page
// farthest from the visible range, preferring the one behind the direction of
// travel when two are equally far. It never drops a visible page or the
// page which was just fetched, so the window can briefly exceed its cap.
// evict requires c.mu.
func (c *WindowCache) evict(fetched uint64, dir Direction) {
	for c.pages.Len() > c.maxPages {
		var (
			victim uint64
			best   uint64
			found  bool
		)
		itr := c.pages.Iterator()
		for !itr.Done() {
			key, _, _ := itr.Next()
			if key == fetched {
				continue
			}
			d := c.distance(key, fetched)
			if d == 0 {
				continue
			}
			// Iteration is in key order, so on a tie the lowest key is
			// already held; travelling backward, the higher one goes.
			if found && d < best {
				continue
			} else if found && d == best && (dir != DirectionBackward || key < victim) {
				continue
			}
			victim, best, found = key, d, true
		}
		if !found {
			return
		}
		c.logger.Debugf("evicting page %d", victim)
		c.pages = c.pages.Delete(victim)
	}
}

// RefreshCount fetches the count from the backend. A result which predates an
// optimistic change is discarded.
func (c *WindowCache) RefreshCount(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.countEpoch
	c.mu.Unlock()

	n, err := c.backend.Count(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching count")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.countEpoch == epoch {
		c.count = n
	}
	return nil
}

// Refresh refetches the count and every cached page concurrently. It returns
// the first error, after every fetch has finished.
func (c *WindowCache) Refresh(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error {
		return c.RefreshCount(ctx)
	})
	for _, key := range c.Keys() {
		key := key
		eg.Go(func() error {
			_, err := c.FetchPage(ctx, key, DirectionNone)
			return err
		})
	}
	return eg.Wait()
}
