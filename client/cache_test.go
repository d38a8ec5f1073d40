package client_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/client"
	"github.com/featurebasedb/boxes/errors"
	boxeshttp "github.com/featurebasedb/boxes/http"
	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/substrate"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend with hooks for failures and slow
// reads.
type fakeBackend struct {
	mu      sync.Mutex
	vectors map[uint64]boxes.Vector
	count   int64
	sends   int

	failReads  error
	failWrites error

	gets    int32
	started chan uint64   // if set, receives the key of each GetRange
	release chan struct{} // if set, GetRange waits for it
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{vectors: make(map[uint64]boxes.Vector)}
}

func (b *fakeBackend) GetRange(ctx context.Context, lower uint64) (boxes.Vector, error) {
	atomic.AddInt32(&b.gets, 1)
	if b.started != nil {
		b.started <- lower
	}
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads != nil {
		return boxes.Vector{}, b.failReads
	}
	return b.vectors[lower], nil
}

func (b *fakeBackend) SetRange(ctx context.Context, lower uint64, localID int64, checked bool) (boxes.Vector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites != nil {
		return boxes.Vector{}, b.failWrites
	}
	v := b.vectors[lower]
	if v.Bit(int(localID)) != checked {
		v = v.With(int(localID), checked)
		b.vectors[lower] = v
		if checked {
			b.count++
		} else {
			b.count--
		}
	}
	return v, nil
}

func (b *fakeBackend) SendRange(ctx context.Context, lower uint64, localID int64, checked bool) error {
	b.mu.Lock()
	b.sends++
	b.mu.Unlock()
	_, err := b.SetRange(ctx, lower, localID, checked)
	return err
}

func (b *fakeBackend) Count(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads != nil {
		return 0, b.failReads
	}
	return b.count, nil
}

func (b *fakeBackend) set(lower uint64, v boxes.Vector, count int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors[lower] = v
	b.count = count
}

func newCache(t *testing.T, b client.Backend, maxPages int) *client.WindowCache {
	return client.NewWindowCache(client.Config{
		Backend:  b,
		MaxPages: maxPages,
		Logger:   logger.NewLogfLogger(t),
	})
}

func fetch(t *testing.T, c *client.WindowCache, dir client.Direction, keys ...uint64) {
	t.Helper()
	for _, key := range keys {
		_, err := c.FetchPage(context.Background(), key, dir)
		require.NoError(t, err, "fetching %d", key)
	}
}

func TestWindowCache_Fetch(t *testing.T) {
	b := newFakeBackend()
	b.set(1536, boxes.Vector{}.With(3, true), 1)
	c := newCache(t, b, 0)

	fetch(t, c, client.DirectionForward, 2048, 1024, 1536)
	assert.Equal(t, []uint64{1024, 1536, 2048}, c.Keys())

	p, ok := c.Page(1536)
	require.True(t, ok)
	assert.Equal(t, client.PageLoaded, p.State)
	assert.True(t, p.Bits.Bit(3))
	assert.False(t, p.FetchedAt.IsZero())

	_, err := c.FetchPage(context.Background(), 100, client.DirectionForward)
	assert.True(t, errors.Is(err, boxes.ErrInvalidShardKey))

	// A failed first fetch leaves no trace.
	b.mu.Lock()
	b.failReads = errors.Errorf("down")
	b.mu.Unlock()
	_, err = c.FetchPage(context.Background(), 4096, client.DirectionForward)
	require.Error(t, err)
	_, ok = c.Page(4096)
	assert.False(t, ok)

	// A failed refetch leaves the page loaded.
	_, err = c.FetchPage(context.Background(), 1536, client.DirectionNone)
	require.Error(t, err)
	p, ok = c.Page(1536)
	require.True(t, ok)
	assert.Equal(t, client.PageLoaded, p.State)
}

func TestWindowCache_Eviction(t *testing.T) {
	t.Run("FarthestFromVisible", func(t *testing.T) {
		c := newCache(t, newFakeBackend(), 0)
		c.SetVisible(1024, 2048)

		fetch(t, c, client.DirectionForward, 1024, 1536, 2048)
		fetch(t, c, client.DirectionForward, 2560)
		assert.Equal(t, []uint64{1024, 1536, 2048, 2560}, c.Keys())

		fetch(t, c, client.DirectionBackward, 512, 0)
		fetch(t, c, client.DirectionForward, 3072, 3584, 4096, 4608)
		assert.Len(t, c.Keys(), client.DefaultMaxPages)

		// The 11th page pushes out the page farthest from view.
		fetch(t, c, client.DirectionForward, 5120)
		assert.Equal(t, []uint64{0, 512, 1024, 1536, 2048, 2560, 3072, 3584, 4096, 5120}, c.Keys())
	})

	t.Run("TieForward", func(t *testing.T) {
		c := newCache(t, newFakeBackend(), 3)
		c.SetVisible(1024, 1024)
		fetch(t, c, client.DirectionNone, 512, 1024, 1536)
		fetch(t, c, client.DirectionForward, 2048)
		assert.Equal(t, []uint64{1024, 1536, 2048}, c.Keys())
	})

	t.Run("TieBackward", func(t *testing.T) {
		c := newCache(t, newFakeBackend(), 3)
		c.SetVisible(1024, 1024)
		fetch(t, c, client.DirectionNone, 512, 1024, 1536)
		fetch(t, c, client.DirectionBackward, 0)
		assert.Equal(t, []uint64{0, 512, 1024}, c.Keys())
	})

	t.Run("NeverVisible", func(t *testing.T) {
		c := newCache(t, newFakeBackend(), 2)
		c.SetVisible(0, 1024)
		fetch(t, c, client.DirectionForward, 0, 512, 1024)
		assert.Equal(t, []uint64{0, 512, 1024}, c.Keys())
	})
}

func TestWindowCache_CoalescesFetches(t *testing.T) {
	b := newFakeBackend()
	b.started = make(chan uint64, 10)
	b.release = make(chan struct{})
	c := newCache(t, b, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchPage(context.Background(), 512, client.DirectionForward)
			assert.NoError(t, err)
		}()
	}
	<-b.started
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&b.gets))
	assert.Equal(t, []uint64{512}, c.Keys())
}

// slowBackend answers GetRange after a delay, or fails when ctx is done
// first.
type slowBackend struct {
	*fakeBackend
	delay time.Duration
}

func (b *slowBackend) GetRange(ctx context.Context, lower uint64) (boxes.Vector, error) {
	if b.started != nil {
		b.started <- lower
	}
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return boxes.Vector{}, ctx.Err()
	}
	atomic.AddInt32(&b.gets, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vectors[lower], nil
}

// A caller giving up on a shared fetch doesn't fail the others waiting on it.
func TestWindowCache_SharedFetchOutlivesCaller(t *testing.T) {
	fb := newFakeBackend()
	fb.set(0, boxes.Vector{}.With(9, true), 1)
	fb.started = make(chan uint64, 10)
	b := &slowBackend{fakeBackend: fb, delay: 100 * time.Millisecond}
	c := newCache(t, b, 0)

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	short := make(chan error, 1)
	go func() {
		_, err := c.FetchPage(shortCtx, 0, client.DirectionForward)
		short <- err
	}()
	<-fb.started

	p, err := c.FetchPage(context.Background(), 0, client.DirectionForward)
	require.NoError(t, err)
	assert.True(t, p.Bits.Bit(9))
	assert.Equal(t, client.PageLoaded, p.State)

	require.ErrorIs(t, <-short, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fb.gets))
	assert.Len(t, fb.started, 0)

	got, ok := c.Page(0)
	require.True(t, ok)
	assert.Equal(t, client.PageLoaded, got.State)
}

func TestWindowCache_OptimisticToggle(t *testing.T) {
	b := newFakeBackend()
	b.set(0, boxes.Vector{}.With(1, true), 1)
	c := newCache(t, b, 0)
	fetch(t, c, client.DirectionForward, 0, 512)
	require.NoError(t, c.RefreshCount(context.Background()))

	before := c.Pages()
	count := c.Count()
	require.Equal(t, int64(1), count)

	m, err := c.OptimisticToggle(0, 7, true)
	require.NoError(t, err)
	p, _ := c.Page(0)
	assert.True(t, p.Bits.Bit(7))
	assert.Equal(t, int64(2), c.Count())

	// The snapshot held by the earlier Pages call is untouched.
	assert.False(t, before[0].Bits.Bit(7))

	c.Rollback(m)
	if diff := cmp.Diff(before, c.Pages()); diff != "" {
		t.Fatalf("pages after rollback differ (-want +got):\n%s", diff)
	}
	assert.Equal(t, count, c.Count())

	_, err = c.OptimisticToggle(4096, 0, true)
	assert.True(t, errors.Is(err, client.ErrPageNotLoaded))
	_, err = c.OptimisticToggle(0, boxes.RangeSize, true)
	assert.True(t, errors.Is(err, boxes.ErrValidation))
}

func TestWindowCache_ToggleFailureRestoresSnapshot(t *testing.T) {
	b := newFakeBackend()
	c := newCache(t, b, 0)
	fetch(t, c, client.DirectionForward, 0, 512, 1024)

	before := c.Pages()
	b.mu.Lock()
	b.failWrites = errors.Errorf("connection reset")
	b.failReads = errors.Errorf("connection reset")
	b.mu.Unlock()

	err := c.Toggle(context.Background(), 512, 3, true)
	require.Error(t, err)

	if diff := cmp.Diff(before, c.Pages()); diff != "" {
		t.Fatalf("pages after failed toggle differ (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(0), c.Count())
}

func TestWindowCache_Toggle(t *testing.T) {
	for _, mode := range []client.WriteMode{client.WriteSync, client.WriteSend} {
		b := newFakeBackend()
		c := client.NewWindowCache(client.Config{Backend: b, WriteMode: mode})
		fetch(t, c, client.DirectionForward, 1024)

		require.NoError(t, c.Toggle(context.Background(), 1024, 9, true))
		p, _ := c.Page(1024)
		assert.True(t, p.Bits.Bit(9))
		assert.Equal(t, int64(1), c.Count())

		b.mu.Lock()
		sends := b.sends
		b.mu.Unlock()
		if mode == client.WriteSend {
			assert.Equal(t, 1, sends)
		} else {
			assert.Equal(t, 0, sends)
		}
	}
}

// A fetch which was in flight when the page was changed locally must not
// overwrite the change with what it read before it.
func TestWindowCache_DiscardsStaleFetch(t *testing.T) {
	b := newFakeBackend()
	c := newCache(t, b, 0)
	fetch(t, c, client.DirectionForward, 0)

	b.started = make(chan uint64, 1)
	b.release = make(chan struct{})
	done := make(chan *client.Page)
	go func() {
		p, err := c.FetchPage(context.Background(), 0, client.DirectionNone)
		assert.NoError(t, err)
		done <- p
	}()
	<-b.started

	p, _ := c.Page(0)
	assert.Equal(t, client.PageStale, p.State)

	_, err := c.OptimisticToggle(0, 4, true)
	require.NoError(t, err)
	close(b.release)

	p = <-done
	assert.True(t, p.Bits.Bit(4))
	p, _ = c.Page(0)
	assert.True(t, p.Bits.Bit(4))
	assert.Equal(t, client.PageLoaded, p.State)
}

func TestWindowCache_Refresh(t *testing.T) {
	b := newFakeBackend()
	c := newCache(t, b, 0)
	fetch(t, c, client.DirectionForward, 0, 512)

	b.set(512, boxes.Vector{}.With(0, true).With(1, true), 2)
	require.NoError(t, c.Refresh(context.Background()))

	p, _ := c.Page(512)
	assert.Equal(t, "3", p.Bits.String())
	assert.Equal(t, int64(2), c.Count())
}

func TestPoller(t *testing.T) {
	b := newFakeBackend()
	c := newCache(t, b, 0)
	fetch(t, c, client.DirectionForward, 0)

	p := client.NewPoller(client.PollerConfig{
		Cache:        c,
		PollInterval: 10 * time.Millisecond,
		Logger:       logger.NewLogfLogger(t),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run())
	}()

	b.set(0, boxes.Vector{}.With(2, true), 1)
	require.Eventually(t, func() bool {
		page, _ := c.Page(0)
		return page.Bits.Bit(2) && c.Count() == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	<-done
}

// The cache works against a real server.
func TestWindowCache_HTTP(t *testing.T) {
	rt := substrate.NewRuntime(substrate.NewInmemStateStore(), substrate.Config{})
	defer rt.Close()
	h, err := boxeshttp.NewHandler(boxeshttp.OptHandlerStore(boxes.NewStore(rt)))
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	backend, err := boxeshttp.NewClient(srv.URL)
	require.NoError(t, err)
	c := newCache(t, backend, 0)
	ctx := context.Background()

	fetch(t, c, client.DirectionForward, 0, 512)
	require.NoError(t, c.Toggle(ctx, 512, 10, true))
	require.NoError(t, c.Toggle(ctx, 0, 0, true))

	err = c.Toggle(ctx, 512, boxes.RangeSize, true)
	assert.True(t, errors.Is(err, boxes.ErrValidation))

	require.Eventually(t, func() bool {
		return c.Refresh(ctx) == nil && c.Count() == 2
	}, 2*time.Second, 5*time.Millisecond)
	p, _ := c.Page(512)
	assert.Equal(t, "1024", p.Bits.String())
}
