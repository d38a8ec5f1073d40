package client

import (
	"context"
	"sync"
	"time"

	"github.com/featurebasedb/boxes/logger"
)

// DefaultPollInterval is how often a Poller refreshes by default.
const DefaultPollInterval = time.Second

// PollerConfig configures a Poller.
type PollerConfig struct {
	Cache        *WindowCache
	PollInterval time.Duration
	Logger       logger.Logger
}

// Poller refreshes a WindowCache on an interval, so that changes made by
// other clients show up.
type Poller struct {
	cache        *WindowCache
	pollInterval time.Duration

	stopping chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// NewPoller returns a new instance of Poller with default values.
func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		cache:        cfg.Cache,
		pollInterval: DefaultPollInterval,
		stopping:     make(chan struct{}),
		logger:       logger.NopLogger,
	}
	if cfg.PollInterval != 0 {
		p.pollInterval = cfg.PollInterval
	}
	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	return p
}

// Run polls until Stop is called.
func (p *Poller) Run() error {
	p.run()
	return nil
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		// Wait for tick or a close.
		select {
		case <-p.stopping:
			return
		case <-ticker.C:
		}

		p.poll()
	}
}

// Stop stops the polling routine. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopping) })
}

func (p *Poller) poll() {
	// A poll must not outlive its interval, or they'd pile up behind a slow
	// server.
	ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
	defer cancel()

	go func() {
		select {
		case <-p.stopping:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	if err := p.cache.Refresh(ctx); err != nil {
		p.logger.Printf("POLLER: refresh failed: %v", err)
		return
	}
	p.logger.Debugf("POLLER: refreshed in %s", time.Since(start))
}
