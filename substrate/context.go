package substrate

import (
	"context"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
)

// SharedContext is what a shared (read-only) handler sees: the object key and
// the last committed state.
type SharedContext struct {
	context.Context

	object string
	key    string
	store  StateStore
	logger logger.Logger
}

// Key returns the key of the object instance being invoked.
func (c *SharedContext) Key() string { return c.key }

// Logger returns a logger prefixed with the object address.
func (c *SharedContext) Logger() logger.Logger { return c.logger }

// Get returns the committed value of the named state entry.
func (c *SharedContext) Get(name string) ([]byte, bool, error) {
	v, ok, err := c.store.ReadState(c, StateKey{Object: c.object, Key: c.key, Name: name})
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading state %s", name)
	}
	return v, ok, nil
}

// Context is what an exclusive handler sees. State writes and outbound
// messages are staged on the Context and only take effect if the handler
// returns without error: writes are committed as one batch, then messages
// are handed to the outbox.
type Context struct {
	SharedContext

	writes map[string][]byte
	order  []string
	sends  []*Message
}

func newContext(ctx context.Context, object, key string, store StateStore, l logger.Logger) *Context {
	return &Context{
		SharedContext: SharedContext{
			Context: ctx,
			object:  object,
			key:     key,
			store:   store,
			logger:  l,
		},
		writes: make(map[string][]byte),
	}
}

// Get returns the value of the named state entry, including writes staged
// earlier in this invocation.
func (c *Context) Get(name string) ([]byte, bool, error) {
	if v, ok := c.writes[name]; ok {
		return v, v != nil, nil
	}
	return c.SharedContext.Get(name)
}

// Set stages a write of the named state entry.
func (c *Context) Set(name string, value []byte) {
	if _, ok := c.writes[name]; !ok {
		c.order = append(c.order, name)
	}
	if value == nil {
		value = []byte{}
	}
	c.writes[name] = value
}

// Clear stages removal of the named state entry.
func (c *Context) Clear(name string) {
	if _, ok := c.writes[name]; !ok {
		c.order = append(c.order, name)
	}
	c.writes[name] = nil
}

// Send stages a fire-and-forget call of method on object/key. The caller
// never observes its result; delivery is at-least-once, see Outbox.
func (c *Context) Send(object, key, method string, input []byte) {
	c.sends = append(c.sends, &Message{
		Object: object,
		Key:    key,
		Method: method,
		Input:  input,
	})
}

func (c *Context) stagedWrites() []StateWrite {
	writes := make([]StateWrite, 0, len(c.order))
	for _, name := range c.order {
		writes = append(writes, StateWrite{
			Key:   StateKey{Object: c.object, Key: c.key, Name: name},
			Value: c.writes[name],
		})
	}
	return writes
}
