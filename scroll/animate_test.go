package scroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/scroll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEaseInOutQuint(t *testing.T) {
	assert.Equal(t, 0.0, scroll.EaseInOutQuint(0))
	assert.Equal(t, 0.5, scroll.EaseInOutQuint(0.5))
	assert.Equal(t, 1.0, scroll.EaseInOutQuint(1))
	assert.InDelta(t, 0.015625, scroll.EaseInOutQuint(0.25), 1e-12)
	assert.InDelta(t, 0.984375, scroll.EaseInOutQuint(0.75), 1e-12)

	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := scroll.EaseInOutQuint(float64(i) / 100)
		assert.GreaterOrEqual(t, v, prev, "step %d", i)
		prev = v
	}
}

type frames struct {
	mu      sync.Mutex
	offsets []int
	first   chan struct{}
	once    sync.Once
}

func newFrames() *frames {
	return &frames{first: make(chan struct{})}
}

func (f *frames) scroll(offset int) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()
	f.once.Do(func() { close(f.first) })
}

func (f *frames) get() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func TestAnimator_ScrollTo(t *testing.T) {
	f := newFrames()
	a := scroll.NewAnimator(scroll.AnimatorConfig{
		Duration:      50 * time.Millisecond,
		FrameInterval: time.Millisecond,
		Scroll:        f.scroll,
		Start:         100,
	})

	require.NoError(t, a.ScrollTo(context.Background(), 2100))
	assert.Equal(t, 2100, a.Position())

	offsets := f.get()
	require.NotEmpty(t, offsets)
	assert.Equal(t, 2100, offsets[len(offsets)-1])
	for i := 1; i < len(offsets); i++ {
		assert.GreaterOrEqual(t, offsets[i], offsets[i-1])
	}
	assert.GreaterOrEqual(t, offsets[0], 100)

	// Back up again.
	require.NoError(t, a.ScrollTo(context.Background(), 0))
	assert.Equal(t, 0, a.Position())
}

func TestAnimator_Superseded(t *testing.T) {
	f := newFrames()
	a := scroll.NewAnimator(scroll.AnimatorConfig{
		Duration:      time.Minute,
		FrameInterval: time.Millisecond,
		Scroll:        f.scroll,
	})

	first := make(chan error, 1)
	go func() { first <- a.ScrollTo(context.Background(), 10000) }()
	<-f.first

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- a.ScrollTo(ctx, 500) }()

	err := <-first
	assert.True(t, errors.Is(err, scroll.ErrScrollCanceled))

	cancel()
	assert.ErrorIs(t, <-second, context.Canceled)
}

func TestAnimator_Cancel(t *testing.T) {
	f := newFrames()
	a := scroll.NewAnimator(scroll.AnimatorConfig{
		Duration:      time.Minute,
		FrameInterval: time.Millisecond,
		Scroll:        f.scroll,
	})

	done := make(chan error, 1)
	go func() { done <- a.ScrollTo(context.Background(), 10000) }()
	<-f.first
	a.Cancel()

	err := <-done
	assert.True(t, errors.Is(err, scroll.ErrScrollCanceled))
	assert.Less(t, a.Position(), 10000)
}
