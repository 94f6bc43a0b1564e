package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/pkg/clock"
)

// loop is the execution context of one session. Tasks posted to it run
// one at a time, in order, on the goroutine calling run.
type loop struct {
	clock  clock.Clock
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}

	// Owned by the loop goroutine.
	conn   bus.Conn
	timers map[uint64]*clock.Timer
	nextID uint64
}

type loopKey struct{}

func newLoop(c clock.Clock, log zerolog.Logger) *loop {
	l := &loop{
		clock:  c,
		log:    log,
		wake:   make(chan struct{}, 1),
		timers: make(map[uint64]*clock.Timer),
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.ctx = context.WithValue(ctx, loopKey{}, l)
	l.cancel = cancel
	return l
}

// Enqueue posts w to the loop that issued ctx, which must come from a
// Work or join callback. Work is never moved to a later session: once
// that session has ended ErrNoSession is returned. Safe to call from any
// goroutine, such as a transport reader.
func Enqueue(ctx context.Context, w Work) error {
	l, ok := ctx.Value(loopKey{}).(*loop)
	if !ok {
		return ErrNoSession
	}
	return l.post(func() { w(l.ctx, l.conn) })
}

// post appends fn to the queue. It never blocks.
func (l *loop) post(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrNoSession
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// after arms a timer that posts w back onto the loop. Must be called on
// the loop goroutine.
func (l *loop) after(d time.Duration, w Work) {
	id := l.nextID
	l.nextID++

	l.timers[id] = l.clock.AfterFunc(d, func() {
		_ = l.post(func() {
			delete(l.timers, id)
			w(l.ctx, l.conn)
		})
	})
}

// run drives the loop until the session is left or the connection drops.
// It returns the transport error in the latter case.
func (l *loop) run(conn bus.Conn) error {
	for {
		select {
		case <-l.ctx.Done():
			return nil
		case <-conn.Done():
			if l.ctx.Err() != nil {
				return nil
			}
			if err := conn.Err(); err != nil {
				return err
			}
			return fmt.Errorf("connection closed by router")
		case <-l.wake:
			for _, fn := range l.drain() {
				if l.ctx.Err() != nil {
					break
				}
				l.exec(fn)
			}
		}
	}
}

func (l *loop) drain() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (l *loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("session task panicked")
		}
	}()
	fn()
}

// stop rejects further posts and discards queued and delayed work. Must be
// called on the loop goroutine after run returns.
func (l *loop) stop() {
	l.cancel()

	l.mu.Lock()
	l.stopped = true
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	for id, t := range l.timers {
		if t.Stop() {
			dropped++
		}
		delete(l.timers, id)
	}

	if dropped > 0 {
		l.log.Debug().Int("dropped", dropped).Msg("discarded pending session work")
	}
}
