// Package session owns the live bus connection: its state machine, the
// goroutine that drives it, and the queue other goroutines use to hand it
// work.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
	StateLeaving      State = "leaving"
	StateFailed       State = "failed"
)

// Active reports whether a session exists in this state, which blocks a
// new Connect.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateJoined, StateLeaving:
		return true
	default:
		return false
	}
}

// Sentinel errors for session operations.
var (
	ErrNoSession     = errors.New("no active session")
	ErrAlreadyActive = errors.New("session already active")
)

// Work runs on the session's loop goroutine. ctx is cancelled when the
// session leaves.
type Work func(ctx context.Context, conn bus.Conn)

// Status is a point-in-time view of a Handle.
type Status struct {
	State     State        `json:"state"`
	Endpoint  bus.Endpoint `json:"endpoint"`
	SessionID uint64       `json:"session_id,omitempty"`
	Since     time.Time    `json:"since"`
	Err       string       `json:"error,omitempty"`
}

// Handle is the single shared reference to the current session. All
// transitions after Connect happen on the session goroutine; other
// goroutines only read state and submit work, both under mu.
type Handle struct {
	mu        sync.Mutex
	state     State
	endpoint  bus.Endpoint
	sessionID uint64
	since     time.Time
	loop      *loop
	err       error
	done      chan struct{}
	changed   chan struct{}
}

func newHandle() *Handle {
	done := make(chan struct{})
	close(done)
	return &Handle{
		state:   StateDisconnected,
		done:    done,
		changed: make(chan struct{}),
	}
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ID returns the router-assigned id of the joined session, or 0.
func (h *Handle) ID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Endpoint returns the endpoint of the current or last session.
func (h *Handle) Endpoint() bus.Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoint
}

// Status returns a snapshot of the handle.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{State: h.state, Endpoint: h.endpoint, SessionID: h.sessionID, Since: h.since}
	if h.err != nil {
		st.Err = h.err.Error()
	}
	return st
}

// Err returns the error that moved the handle to StateFailed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the current session ends. With no session it is
// already closed.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Submit queues w on the session loop. It never blocks. ErrNoSession is
// returned unless the handle is joined.
func (h *Handle) Submit(w Work) error {
	l, err := h.joinedLoop()
	if err != nil {
		return err
	}
	return l.post(func() { w(l.ctx, l.conn) })
}

// SubmitAfter queues w to run on the session loop once d has elapsed.
// Delays are independent of each other. If the session leaves first, w
// is dropped.
func (h *Handle) SubmitAfter(d time.Duration, w Work) error {
	if d <= 0 {
		return h.Submit(w)
	}

	l, err := h.joinedLoop()
	if err != nil {
		return err
	}
	return l.post(func() { l.after(d, w) })
}

func (h *Handle) joinedLoop() (*loop, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateJoined || h.loop == nil {
		return nil, ErrNoSession
	}
	return h.loop, nil
}

// WaitJoined blocks until the session is joined, ends, or ctx is done.
func (h *Handle) WaitJoined(ctx context.Context) error {
	for {
		h.mu.Lock()
		state, err, changed := h.state, h.err, h.changed
		h.mu.Unlock()

		switch state {
		case StateJoined:
			return nil
		case StateFailed:
			return err
		case StateConnecting:
		default:
			return ErrNoSession
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Leave asks the session to leave and waits until it has, or until ctx
// is done. Delayed work that has not fired is dropped. Leaving without a
// session is a no-op.
func (h *Handle) Leave(ctx context.Context) error {
	h.mu.Lock()
	l, done := h.loop, h.done
	if l == nil {
		h.mu.Unlock()
		return nil
	}
	if h.state == StateConnecting || h.state == StateJoined {
		h.setStateLocked(StateLeaving)
	}
	h.mu.Unlock()

	l.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin moves a handle without a live session to StateConnecting.
func (h *Handle) begin(ep bus.Endpoint, l *loop) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Active() {
		return ErrAlreadyActive
	}

	h.endpoint = ep
	h.sessionID = 0
	h.err = nil
	h.loop = l
	h.done = make(chan struct{})
	h.setStateLocked(StateConnecting)
	return nil
}

// joined records a successful join. It returns false when Leave was
// requested while connecting.
func (h *Handle) joined(l *loop, sessionID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loop != l || h.state != StateConnecting {
		return false
	}
	h.sessionID = sessionID
	h.setStateLocked(StateJoined)
	return true
}

// end closes out l's session: StateFailed when err is set, otherwise
// StateDisconnected.
func (h *Handle) end(l *loop, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loop != l {
		return
	}

	h.loop = nil
	h.err = err
	if err != nil {
		h.setStateLocked(StateFailed)
	} else {
		h.setStateLocked(StateDisconnected)
	}
	close(h.done)
}

func (h *Handle) setStateLocked(s State) {
	h.state = s
	h.since = time.Now()
	close(h.changed)
	h.changed = make(chan struct{})
}
