// Package bustest provides in-memory bus fakes for tests.
package bustest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

// Publication is one recorded Publish call.
type Publication struct {
	Topic   string
	Payload any
	At      time.Time
}

// Conn is a fake bus.Conn that records publishes and lets tests emit
// events to subscribers.
type Conn struct {
	id uint64

	// SubscribeErr, if set, is consulted for every Subscribe call. A
	// non-nil result fails that topic.
	SubscribeErr func(topic string) error
	// PublishErr, if set, fails every Publish with its result.
	PublishErr error

	mu        sync.Mutex
	published []Publication
	handlers  map[string][]bus.Handler
	onPublish []func(Publication)
	closed    bool
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a fake connection with the given session id.
func NewConn(id uint64) *Conn {
	return &Conn{
		id:       id,
		handlers: make(map[string][]bus.Handler),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Publish(_ context.Context, topic string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bus.ErrClosed
	}
	if c.PublishErr != nil {
		c.mu.Unlock()
		return c.PublishErr
	}
	p := Publication{Topic: topic, Payload: payload, At: time.Now()}
	c.published = append(c.published, p)
	hooks := append([]func(Publication){}, c.onPublish...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(p)
	}
	return nil
}

func (c *Conn) Subscribe(_ context.Context, topic string, h bus.Handler) error {
	if err := bus.ValidateTopic(topic); err != nil {
		return err
	}
	if c.SubscribeErr != nil {
		if err := c.SubscribeErr(topic); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return bus.ErrClosed
	}
	c.handlers[topic] = append(c.handlers[topic], h)
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close(_ context.Context) error {
	c.shutdown(nil)
	return nil
}

// Drop simulates the router going away.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = errors.New("connection lost")
	}
	c.shutdown(err)
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Closed reports whether Close or Drop was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Published returns a copy of all recorded publications.
func (c *Conn) Published() []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Publication(nil), c.published...)
}

// OnPublish registers fn to be called after every successful publish.
func (c *Conn) OnPublish(fn func(Publication)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPublish = append(c.onPublish, fn)
}

// Topics returns the topics with at least one handler.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

// Emit delivers an event to every handler subscribed to topic, from the
// calling goroutine, like a transport reader would.
func (c *Conn) Emit(topic string, args []any, kwargs map[string]any) int {
	c.mu.Lock()
	hs := append([]bus.Handler(nil), c.handlers[topic]...)
	c.mu.Unlock()

	for _, h := range hs {
		h(bus.Event{Topic: topic, Args: args, Kwargs: kwargs, ReceivedAt: time.Now()})
	}
	return len(hs)
}

// Dialer hands out fake connections.
type Dialer struct {
	// Err, if set, fails every dial.
	Err error
	// Block, if set, holds every dial until it is closed or the dial
	// context ends.
	Block chan struct{}

	mu    sync.Mutex
	next  uint64
	conns []*Conn
	eps   []bus.Endpoint
	dials chan *Conn
}

// NewDialer creates a Dialer whose Dialed channel reports each new conn.
func NewDialer() *Dialer {
	return &Dialer{dials: make(chan *Conn, 16)}
}

func (d *Dialer) Dial(ctx context.Context, ep bus.Endpoint) (bus.Conn, error) {
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}

	d.mu.Lock()
	d.next++
	c := NewConn(d.next)
	d.conns = append(d.conns, c)
	d.eps = append(d.eps, ep)
	d.mu.Unlock()

	select {
	case d.dials <- c:
	default:
	}
	return c, nil
}

// Dialed reports connections as they are created.
func (d *Dialer) Dialed() <-chan *Conn { return d.dials }

// Conns returns every connection created so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Endpoints returns the endpoints dialled, in order.
func (d *Dialer) Endpoints() []bus.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bus.Endpoint(nil), d.eps...)
}
