package client

import (
	"context"

	"github.com/benbjohnson/immutable"
	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
)

// Mutation is an optimistic local change along with what the cache looked
// like before it.
type Mutation struct {
	Key     uint64
	LocalID int
	Checked bool

	pages *immutable.SortedMap[uint64, *Page]
	count int64
}

// OptimisticToggle sets bit localID of the cached page key to checked and
// adjusts the cached count to match, without contacting the backend. The
// returned Mutation can undo the change with Rollback.
func (c *WindowCache) OptimisticToggle(key uint64, localID int, checked bool) (*Mutation, error) {
	if localID < 0 || localID >= boxes.RangeSize {
		return nil, boxes.NewErrValidation("id %d out of range [0,%d)", localID, boxes.RangeSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	page, ok := c.pages.Get(key)
	if !ok || page.State == PageLoading {
		return nil, NewErrPageNotLoaded(key)
	}

	m := &Mutation{
		Key:     key,
		LocalID: localID,
		Checked: checked,
		pages:   c.pages,
		count:   c.count,
	}

	// Anything in flight now was read before this change.
	c.epochs[key]++
	c.countEpoch++

	if page.Bits.Bit(localID) == checked {
		return m, nil
	}

	next := *page
	next.Bits = page.Bits.With(localID, checked)
	c.pages = c.pages.Set(key, &next)
	if checked {
		c.count++
	} else if c.count > 0 {
		c.count--
	}
	return m, nil
}

// Rollback restores the pages and count exactly as they were before m.
func (c *WindowCache) Rollback(m *Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = m.pages
	c.count = m.count
	c.epochs[m.Key]++
	c.countEpoch++
}

// Toggle sets a bit optimistically, writes it to the backend, and rolls back
// if the write fails. Either way it then refetches the page and the count so
// the cache converges on the server's state. The write's error, if any, is
// returned.
func (c *WindowCache) Toggle(ctx context.Context, key uint64, localID int, checked bool) error {
	m, err := c.OptimisticToggle(key, localID, checked)
	if err != nil {
		return err
	}

	switch c.writeMode {
	case WriteSend:
		err = c.backend.SendRange(ctx, key, int64(localID), checked)
	default:
		_, err = c.backend.SetRange(ctx, key, int64(localID), checked)
	}
	if err != nil {
		c.logger.Printf("write of %d/%d failed, rolling back: %v", key, localID, err)
		c.Rollback(m)
		err = errors.Wrapf(err, "toggling %d/%d", key, localID)
	}

	if serr := c.settle(ctx, key); serr != nil {
		c.logger.Debugf("settling page %d: %v", key, serr)
	}
	return err
}

// settle refetches a page and the count after a write.
func (c *WindowCache) settle(ctx context.Context, key uint64) error {
	if _, err := c.FetchPage(ctx, key, DirectionNone); err != nil {
		return err
	}
	return c.RefreshCount(ctx)
}
