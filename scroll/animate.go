package scroll

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/featurebasedb/boxes/errors"
)

const (
	ErrScrollCanceled errors.Code = "ScrollCanceled"

	DefaultScrollDuration = time.Second
	DefaultFrameInterval  = 16 * time.Millisecond
)

func NewErrScrollCanceled() error {
	return errors.New(ErrScrollCanceled, "scroll superseded by a newer one")
}

// EaseInOutQuint maps linear progress t in [0,1] onto a quintic ease-in-out
// curve.
func EaseInOutQuint(t float64) float64 {
	if t < 0.5 {
		return 16 * t * t * t * t * t
	}
	t--
	return 1 + 16*t*t*t*t*t
}

// AnimatorConfig configures an Animator.
type AnimatorConfig struct {
	Duration      time.Duration
	FrameInterval time.Duration
	// Scroll is called with the offset of every frame.
	Scroll func(offset int)
	// Start is the initial offset.
	Start int
}

// Animator animates scrolling between offsets. Each ScrollTo takes a new
// token; an animation stops as soon as its token is no longer the latest.
type Animator struct {
	duration time.Duration
	frame    time.Duration
	scroll   func(offset int)

	mu       sync.Mutex
	token    uint64
	position int
}

func NewAnimator(cfg AnimatorConfig) *Animator {
	a := &Animator{
		duration: DefaultScrollDuration,
		frame:    DefaultFrameInterval,
		scroll:   func(int) {},
		position: cfg.Start,
	}
	if cfg.Duration > 0 {
		a.duration = cfg.Duration
	}
	if cfg.FrameInterval > 0 {
		a.frame = cfg.FrameInterval
	}
	if cfg.Scroll != nil {
		a.scroll = cfg.Scroll
	}
	return a
}

// Position returns the offset of the last frame.
func (a *Animator) Position() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Cancel stops any running animation where it is.
func (a *Animator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token++
}

// ScrollTo animates from the current position to target and returns when the
// last frame has been scrolled to. It returns an ErrScrollCanceled error if
// another ScrollTo or a Cancel supersedes it, and ctx.Err() if ctx is done
// first.
func (a *Animator) ScrollTo(ctx context.Context, target int) error {
	a.mu.Lock()
	a.token++
	token := a.token
	from := a.position
	a.mu.Unlock()

	ticker := time.NewTicker(a.frame)
	defer ticker.Stop()

	start := time.Now()
	for {
		elapsed := time.Since(start)
		progress := EaseInOutQuint(math.Min(float64(elapsed)/float64(a.duration), 1))
		offset := from + int(math.Round(float64(target-from)*progress))
		if elapsed >= a.duration {
			offset = target
		}

		a.mu.Lock()
		if a.token != token {
			a.mu.Unlock()
			return NewErrScrollCanceled()
		}
		a.position = offset
		a.mu.Unlock()
		a.scroll(offset)

		if elapsed >= a.duration {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
