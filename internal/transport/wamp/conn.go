package wamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

type reply struct {
	id  uint64
	err error
}

type request struct {
	ch chan reply

	// Set for SUBSCRIBE requests so the reader can register the handler
	// before any EVENT for it is processed.
	topic      string
	handler    bus.Handler
	registered bool
}

type subscription struct {
	topic    string
	handlers []bus.Handler
}

// conn is a joined WAMP session. A single reader goroutine owns incoming
// frames; writes may come from any goroutine.
type conn struct {
	ws  *websocket.Conn
	id  uint64
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	reqID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*request
	subs    map[uint64]*subscription
	closing bool
	goodbye chan struct{}
	byeOnce sync.Once

	once sync.Once
	done chan struct{}
	err  error
}

var _ bus.Conn = (*conn)(nil)

func newConn(ws *websocket.Conn, id uint64, log zerolog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		ws:      ws,
		id:      id,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]*request),
		subs:    make(map[uint64]*subscription),
		goodbye: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *conn) ID() uint64 { return c.id }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Publish sends payload to topic and waits for the router's
// acknowledgement.
func (c *conn) Publish(ctx context.Context, topic string, payload any) error {
	if err := bus.ValidateTopic(topic); err != nil {
		return err
	}

	req := c.reqID.Add(1)
	_, err := c.call(ctx, req, &request{}, publishMsg(req, topic, payload))
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic. Events are delivered on the reader
// goroutine, so h must not block.
func (c *conn) Subscribe(ctx context.Context, topic string, h bus.Handler) error {
	if err := bus.ValidateTopic(topic); err != nil {
		return err
	}

	req := c.reqID.Add(1)
	sub, err := c.call(ctx, req, &request{topic: topic, handler: h}, subscribeMsg(req, topic))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c.log.Debug().Str("topic", topic).Uint64("subscription", sub).Msg("subscribed")
	return nil
}

func (c *conn) call(ctx context.Context, id uint64, r *request, msg []any) (uint64, error) {
	r.ch = make(chan reply, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return 0, bus.ErrClosed
	}
	c.pending[id] = r
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		return 0, err
	}

	select {
	case rep := <-r.ch:
		return rep.id, rep.err
	case <-c.done:
		return 0, bus.ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close says GOODBYE, waits for the router to answer or ctx to end, and
// closes the websocket.
func (c *conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}

	if err := wsjson.Write(ctx, c.ws, goodbyeMsg(reasonCloseRealm)); err == nil {
		select {
		case <-c.goodbye:
		case <-c.done:
		case <-ctx.Done():
			c.log.Debug().Msg("router did not answer goodbye")
		}
	}

	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.terminate(nil)

	if err != nil && !isNormalClose(err) {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

func (c *conn) readLoop() {
	for {
		var raw []json.RawMessage
		if err := wsjson.Read(c.ctx, c.ws, &raw); err != nil {
			c.terminate(c.readError(err))
			return
		}

		if err := c.handle(raw); err != nil {
			c.log.Error().Err(err).Msg("dropping wamp session")
			c.ws.Close(websocket.StatusProtocolError, "protocol violation") //nolint:errcheck
			c.terminate(err)
			return
		}
	}
}

func (c *conn) readError(err error) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return nil
	}
	if isNormalClose(err) {
		return fmt.Errorf("%w: router closed the websocket", bus.ErrClosed)
	}
	return fmt.Errorf("read: %w", err)
}

func (c *conn) handle(raw []json.RawMessage) error {
	f, err := decodeFrame(raw)
	if err != nil {
		return err
	}

	switch f.code {
	case codeSubscribed:
		if err := f.need(2); err != nil {
			return err
		}
		req, err := f.id(0)
		if err != nil {
			return err
		}
		sub, err := f.id(1)
		if err != nil {
			return err
		}
		c.subscribed(req, sub)

	case codePublished:
		if err := f.need(2); err != nil {
			return err
		}
		req, err := f.id(0)
		if err != nil {
			return err
		}
		pub, _ := f.id(1)
		c.resolve(req, reply{id: pub})

	case codeError:
		if err := f.need(4); err != nil {
			return err
		}
		req, err := f.id(1)
		if err != nil {
			return err
		}
		c.resolve(req, reply{err: f.routerError()})

	case codeEvent:
		return c.event(f)

	case codeGoodbye:
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()

		if closing {
			c.byeOnce.Do(func() { close(c.goodbye) })
			return nil
		}

		reason := f.routerError()
		c.log.Warn().Str("reason", reason.URI).Msg("router ended session")
		_ = wsjson.Write(c.ctx, c.ws, goodbyeMsg(reasonGoodbyeAndOut))
		c.ws.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
		c.terminate(fmt.Errorf("%w: goodbye from router: %w", bus.ErrClosed, reason))

	case codeAbort:
		c.terminate(f.routerError())

	default:
		c.log.Debug().Int("code", f.code).Msg("ignoring wamp message")
	}
	return nil
}

func (c *conn) subscribed(req, sub uint64) {
	c.mu.Lock()
	r, ok := c.pending[req]
	if ok && r.handler != nil && !r.registered {
		r.registered = true
		s, exists := c.subs[sub]
		if !exists {
			s = &subscription{topic: r.topic}
			c.subs[sub] = s
		}
		s.handlers = append(s.handlers, r.handler)
	}
	c.mu.Unlock()

	if ok {
		deliver(r, reply{id: sub})
	}
}

func (c *conn) resolve(req uint64, rep reply) {
	c.mu.Lock()
	r, ok := c.pending[req]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Uint64("request", req).Msg("reply for unknown request")
		return
	}
	if !deliver(r, rep) {
		c.log.Debug().Uint64("request", req).Msg("duplicate reply dropped")
	}
}

// deliver hands rep to the waiting caller. The reader never blocks on it: a
// second reply for the same request is dropped.
func deliver(r *request, rep reply) bool {
	select {
	case r.ch <- rep:
		return true
	default:
		return false
	}
}

// event handles EVENT [36, subscription, publication, details, args?, kwargs?].
func (c *conn) event(f frame) error {
	if err := f.need(3); err != nil {
		return err
	}
	subID, err := f.id(0)
	if err != nil {
		return err
	}
	pubID, err := f.id(1)
	if err != nil {
		return err
	}

	ev := bus.Event{Subscription: subID, Publication: pubID, ReceivedAt: time.Now()}
	if err := f.optional(3, &ev.Args); err != nil {
		return err
	}
	if err := f.optional(4, &ev.Kwargs); err != nil {
		return err
	}

	c.mu.Lock()
	s, ok := c.subs[subID]
	var handlers []bus.Handler
	if ok {
		ev.Topic = s.topic
		handlers = append(handlers, s.handlers...)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Uint64("subscription", subID).Msg("event for unknown subscription")
		return nil
	}

	for _, h := range handlers {
		c.deliver(h, ev)
	}
	return nil
}

func (c *conn) deliver(h bus.Handler, ev bus.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("topic", ev.Topic).Msg("event handler panicked")
		}
	}()
	h(ev)
}

func (c *conn) terminate(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()

		c.err = err
		c.cancel()
		c.ws.CloseNow() //nolint:errcheck
		close(c.done)
	})
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
