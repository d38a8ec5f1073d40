package substrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/task"
	uuid "github.com/satori/go.uuid"
)

// Message is a fire-and-forget call of Method on the object instance
// Object/Key.
type Message struct {
	ID      string
	Object  string
	Key     string
	Method  string
	Input   []byte
	Attempt int
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(%s/%s/%s attempt %d)", m.ID, m.Object, m.Key, m.Method, m.Attempt)
}

// Fault is what a FaultFunc decides should happen to a delivery.
type Fault int

const (
	// FaultNone delivers the message normally.
	FaultNone Fault = iota
	// FaultDrop loses the message, as a crash before dispatch would.
	FaultDrop
	// FaultDuplicate delivers the message twice, as a redelivery after a
	// lost acknowledgement would.
	FaultDuplicate
)

// FaultFunc is consulted before each delivery. It exists so tests can
// exercise the outbox's delivery anomalies on purpose.
type FaultFunc func(m *Message) Fault

// deliverFunc invokes the target handler and waits for it to finish.
type deliverFunc func(ctx context.Context, m *Message) error

// Outbox delivers messages staged by handlers. Delivery is at-least-once in
// the absence of crashes: failed deliveries are retried up to MaxAttempts
// times. It is not exactly-once and not durable:
//   - a message is lost if the process stops after the sender's state was
//     committed but before delivery, if the queue is full, or once attempts
//     run out;
//   - a message can be applied twice if a delivery succeeds but is retried
//     anyway.
//
// Messages are unordered relative to each other and to the sender's later
// state writes. Receivers must tolerate all of this.
type Outbox struct {
	ch       chan *Message
	done     chan struct{}
	deliver  deliverFunc
	pool     *task.Pool
	fault    FaultFunc
	attempts int
	backoff  time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup // retry timers
}

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	Capacity    int
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	Fault       FaultFunc
	Logger      logger.Logger
}

func newOutbox(cfg OutboxConfig, deliver deliverFunc) *Outbox {
	o := &Outbox{
		ch:       make(chan *Message, 4096),
		done:     make(chan struct{}),
		deliver:  deliver,
		attempts: 5,
		backoff:  50 * time.Millisecond,
		logger:   logger.NopLogger,
	}
	if cfg.Capacity > 0 {
		o.ch = make(chan *Message, cfg.Capacity)
	}
	if cfg.MaxAttempts > 0 {
		o.attempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		o.backoff = cfg.RetryDelay
	}
	if cfg.Fault != nil {
		o.fault = cfg.Fault
	}
	if cfg.Logger != nil {
		o.logger = cfg.Logger
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	o.pool = task.NewPool(workers, o.step, outboxPoolStats{})
	return o
}

// Enqueue hands m to the delivery workers without waiting. It fails only if
// the outbox is closed or full, in which case m is lost.
func (o *Outbox) Enqueue(m *Message) error {
	if m.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		m.ID = id.String()
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Warnf("outbox closed, dropped %s", m)
		return NewErrClosed()
	}

	select {
	case o.ch <- m:
		counterOutboxMessages.WithLabelValues(outcomeEnqueued).Inc()
		return nil
	default:
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Warnf("outbox full, dropped %s", m)
		return NewErrOutboxFull(m)
	}
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.ch)
}

// step is run in a loop by each pool worker.
func (o *Outbox) step() {
	select {
	case <-o.done:
		return
	case m := <-o.ch:
		o.handle(m)
	}
}

func (o *Outbox) handle(m *Message) {
	fault := FaultNone
	if o.fault != nil {
		fault = o.fault(m)
	}
	switch fault {
	case FaultDrop:
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Debugf("fault: dropping %s", m)
		return
	case FaultDuplicate:
		o.logger.Debugf("fault: duplicating %s", m)
		o.attempt(m)
	}
	o.attempt(m)
}

func (o *Outbox) attempt(m *Message) {
	m.Attempt++

	// The target partition may be busy for a while; let another worker
	// carry on with the rest of the queue.
	o.pool.Block()
	err := o.deliver(context.Background(), m)
	o.pool.Unblock()

	if err == nil {
		counterOutboxMessages.WithLabelValues(outcomeDelivered).Inc()
		return
	}
	if IsTerminal(err) {
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Errorf("dropping %s: %v", m, err)
		return
	}
	if m.Attempt >= o.attempts {
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Errorf("giving up on %s: %v", m, err)
		return
	}
	o.retry(m, err)
}

func (o *Outbox) retry(m *Message, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
		o.logger.Warnf("outbox closed, dropped %s: %v", m, cause)
		return
	}
	counterOutboxMessages.WithLabelValues(outcomeRetried).Inc()
	o.logger.Debugf("retrying %s: %v", m, cause)

	delay := o.backoff * time.Duration(1<<uint(m.Attempt-1))
	o.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer o.pending.Done()
		select {
		case <-o.done:
			counterOutboxMessages.WithLabelValues(outcomeDropped).Inc()
			o.logger.Warnf("outbox closed, dropped %s", m)
		case o.ch <- m:
		}
	})
}

// Close stops the delivery workers once their current deliveries finish.
// Messages still queued are dropped and counted.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.pool.Shutdown()
	close(o.done)
	o.pool.Close()
	o.pending.Wait()

	if n := len(o.ch); n > 0 {
		counterOutboxMessages.WithLabelValues(outcomeDropped).Add(float64(n))
		o.logger.Warnf("outbox closed with %d undelivered messages", n)
	}
}

type outboxPoolStats struct{}

func (outboxPoolStats) PoolSize(n int) {
	gaugeOutboxWorkers.Set(float64(n))
}
