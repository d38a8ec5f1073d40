// Package substrate is a small in-process durable-execution runtime. Objects
// bind named handlers; every invocation of an exclusive handler for a given
// object key runs on that key's partition, one at a time and in receipt
// order, so handlers need no locks of their own. Handlers stage state writes
// and outbound messages which are committed together when the handler
// succeeds.
package substrate

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
)

// Handler is an exclusive handler. At most one exclusive handler runs per
// object key at a time.
type Handler func(ctx *Context, input []byte) ([]byte, error)

// SharedHandler is a read-only handler. Shared handlers run concurrently with
// each other and with exclusive handlers, and see committed state only.
type SharedHandler func(ctx *SharedContext, input []byte) ([]byte, error)

// Object is a named set of handlers. Instances of an object are addressed by
// key and exist implicitly; there is nothing to create.
type Object struct {
	Name     string
	Handlers map[string]Handler
	Shared   map[string]SharedHandler
}

// Config configures a Runtime.
type Config struct {
	// Partitions is the number of single-writer executors. Keys are hashed
	// onto partitions.
	Partitions int
	// QueueSize is the number of invocations each partition buffers before
	// Invoke blocks.
	QueueSize int

	Outbox OutboxConfig
	Logger logger.Logger
}

const (
	defaultPartitions = 16
	defaultQueueSize  = 256
)

type result struct {
	out []byte
	err error
}

type invocation struct {
	ctx     context.Context
	object  string
	key     string
	method  string
	handler Handler
	input   []byte
	done    chan result
}

// Runtime executes handlers of bound objects.
type Runtime struct {
	mu      sync.RWMutex
	objects map[string]*Object
	closed  bool

	partitions []chan *invocation
	wg         sync.WaitGroup

	// ctx is passed to handlers instead of the caller's context, so a caller
	// giving up can't abort an invocation halfway through its commit.
	ctx    context.Context
	cancel context.CancelFunc

	store  StateStore
	outbox *Outbox
	logger logger.Logger
}

// NewRuntime returns a running Runtime which keeps object state in store.
func NewRuntime(store StateStore, cfg Config) *Runtime {
	r := &Runtime{
		objects: make(map[string]*Object),
		store:   store,
		logger:  logger.NopLogger,
	}
	if cfg.Logger != nil {
		r.logger = cfg.Logger
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	n := cfg.Partitions
	if n <= 0 {
		n = defaultPartitions
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	ocfg := cfg.Outbox
	if ocfg.Logger == nil {
		ocfg.Logger = r.logger.WithPrefix("outbox: ")
	}
	r.outbox = newOutbox(ocfg, r.deliver)

	r.partitions = make([]chan *invocation, n)
	for i := range r.partitions {
		r.partitions[i] = make(chan *invocation, size)
		r.wg.Add(1)
		go r.run(r.partitions[i])
	}
	return r
}

// Bind registers obj. Binding a name twice replaces the earlier object.
func (r *Runtime) Bind(obj Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[obj.Name] = &obj
}

// Invoke runs the named handler of object/key and returns its output. If the
// handler is exclusive it is queued on the key's partition. If ctx is done
// before the handler finishes, Invoke returns ctx.Err() but an invocation
// which has already started still runs to completion.
func (r *Runtime) Invoke(ctx context.Context, object, key, method string, input []byte) ([]byte, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, NewErrClosed()
	}
	obj, ok := r.objects[object]
	if !ok {
		r.mu.RUnlock()
		return nil, NewErrUnknownObject(object)
	}
	h, ok := obj.Handlers[method]
	if !ok {
		r.mu.RUnlock()
		if _, ok := obj.Shared[method]; ok {
			return r.InvokeShared(ctx, object, key, method, input)
		}
		return nil, NewErrUnknownHandler(object, method)
	}

	inv := &invocation{
		ctx:     ctx,
		object:  object,
		key:     key,
		method:  method,
		handler: h,
		input:   input,
		done:    make(chan result, 1),
	}

	// Enqueue under the read lock so Close can't close the channel under us.
	select {
	case r.partition(object, key) <- inv:
		gaugePartitionDepth.Inc()
	case <-ctx.Done():
		r.mu.RUnlock()
		return nil, ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case res := <-inv.done:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InvokeShared runs the named shared handler of object/key on the calling
// goroutine.
func (r *Runtime) InvokeShared(ctx context.Context, object, key, method string, input []byte) ([]byte, error) {
	r.mu.RLock()
	closed := r.closed
	obj, ok := r.objects[object]
	r.mu.RUnlock()
	if closed {
		return nil, NewErrClosed()
	} else if !ok {
		return nil, NewErrUnknownObject(object)
	}
	h, ok := obj.Shared[method]
	if !ok {
		if _, ok := obj.Handlers[method]; ok {
			return nil, Terminal(errors.New(ErrReadOnly,
				fmt.Sprintf("handler '%s' of object '%s' is exclusive", method, object)))
		}
		return nil, NewErrUnknownHandler(object, method)
	}

	sc := &SharedContext{
		Context: ctx,
		object:  object,
		key:     key,
		store:   r.store,
		logger:  r.logger.WithPrefix(fmt.Sprintf("%s/%s: ", object, key)),
	}
	out, err := h(sc, input)
	counterInvocations.WithLabelValues(object, "shared", resultLabel(err)).Inc()
	return out, err
}

// Send queues a call of object/key/method on the outbox and returns without
// waiting for it. The call gets the outbox's delivery guarantees, which
// include being lost or repeated.
func (r *Runtime) Send(ctx context.Context, object, key, method string, input []byte) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return NewErrClosed()
	}
	return r.outbox.Enqueue(&Message{
		Object: object,
		Key:    key,
		Method: method,
		Input:  input,
	})
}

// Close stops accepting invocations and waits for in-flight outbox
// deliveries, queued invocations and running handlers to finish. Messages
// still waiting in the outbox are dropped, counted and logged. Close doesn't
// close the state store.
func (r *Runtime) Close() error {
	// The outbox goes first; its deliveries are invocations.
	r.outbox.Close()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ch := range r.partitions {
		close(ch)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
	return nil
}

func (r *Runtime) partition(object, key string) chan *invocation {
	h := xxhash.Sum64String(object + "/" + key)
	return r.partitions[h%uint64(len(r.partitions))]
}

func (r *Runtime) run(ch chan *invocation) {
	defer r.wg.Done()
	for inv := range ch {
		gaugePartitionDepth.Dec()
		out, err := r.execute(inv)
		counterInvocations.WithLabelValues(inv.object, "exclusive", resultLabel(err)).Inc()
		inv.done <- result{out: out, err: err}
	}
}

func (r *Runtime) execute(inv *invocation) (out []byte, err error) {
	if err := inv.ctx.Err(); err != nil {
		return nil, err
	}

	l := r.logger.WithPrefix(fmt.Sprintf("%s/%s: ", inv.object, inv.key))
	defer func() {
		if p := recover(); p != nil {
			l.Errorf("handler %s panicked: %v\n%s", inv.method, p, debug.Stack())
			out, err = nil, Terminal(errors.Errorf("handler %s panicked: %v", inv.method, p))
		}
	}()

	c := newContext(r.ctx, inv.object, inv.key, r.store, l)
	out, err = inv.handler(c, inv.input)
	if err != nil {
		return nil, err
	}

	if writes := c.stagedWrites(); len(writes) > 0 {
		if err := r.store.WriteState(r.ctx, writes...); err != nil {
			return nil, errors.Wrapf(err, "committing state of %s/%s", inv.object, inv.key)
		}
	}

	// A message which can't be queued is lost; the outbox has logged it and
	// the committed state stands.
	for _, m := range c.sends {
		_ = r.outbox.Enqueue(m)
	}
	return out, nil
}

// deliver is the outbox's delivery function.
func (r *Runtime) deliver(ctx context.Context, m *Message) error {
	_, err := r.Invoke(ctx, m.Object, m.Key, m.Method, m.Input)
	return err
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
