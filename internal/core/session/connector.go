package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/pkg/clock"
	"github.com/hay-kot/stimulus/pkg/randid"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultLeaveTimeout   = 5 * time.Second
)

// Connector opens sessions on a Handle it owns. Each Connect starts a new
// session goroutine; the Handle only ever references the latest one.
type Connector struct {
	name           string
	dialer         bus.Dialer
	handle         *Handle
	clock          clock.Clock
	log            zerolog.Logger
	connectTimeout time.Duration
	leaveTimeout   time.Duration
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock sets the clock used for delayed work.
func WithClock(c clock.Clock) Option {
	return func(cn *Connector) { cn.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(cn *Connector) { cn.log = log }
}

// WithConnectTimeout bounds the dial and join handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(cn *Connector) {
		if d > 0 {
			cn.connectTimeout = d
		}
	}
}

// WithLeaveTimeout bounds the goodbye exchange when a session leaves.
func WithLeaveTimeout(d time.Duration) Option {
	return func(cn *Connector) {
		if d > 0 {
			cn.leaveTimeout = d
		}
	}
}

// NewConnector creates a Connector. name labels its sessions in logs.
func NewConnector(name string, dialer bus.Dialer, opts ...Option) *Connector {
	c := &Connector{
		name:           name,
		dialer:         dialer,
		handle:         newHandle(),
		clock:          clock.Real(),
		log:            zerolog.Nop(),
		connectTimeout: DefaultConnectTimeout,
		leaveTimeout:   DefaultLeaveTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle returns the handle this connector manages.
func (c *Connector) Handle() *Handle { return c.handle }

// Connect starts a session against ep and returns without waiting for the
// join. onJoin, if set, runs on the session loop right after the join and
// before any submitted work. ErrAlreadyActive is returned while a previous
// session is connecting, joined, or leaving.
func (c *Connector) Connect(ep bus.Endpoint, onJoin Work) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	label := randid.Label(c.name, 6)
	log := c.log.With().
		Str("session", label).
		Str("url", ep.URL).
		Str("realm", ep.Realm).
		Logger()

	l := newLoop(c.clock, log)
	if err := c.handle.begin(ep, l); err != nil {
		l.cancel()
		return err
	}

	log.Debug().Msg("connecting")
	go c.run(l, ep, onJoin, log)
	return nil
}

func (c *Connector) run(l *loop, ep bus.Endpoint, onJoin Work, log zerolog.Logger) {
	dialCtx, cancel := context.WithTimeout(l.ctx, c.connectTimeout)
	conn, err := c.dialer.Dial(dialCtx, ep)
	cancel()

	if err != nil {
		l.stop()
		if l.ctx.Err() != nil {
			log.Debug().Msg("connect abandoned")
			c.handle.end(l, nil)
			return
		}
		log.Error().Err(err).Msg("connect failed")
		c.handle.end(l, fmt.Errorf("connect %s: %w", ep, err))
		return
	}

	l.conn = conn
	if !c.handle.joined(l, conn.ID()) {
		l.stop()
		c.close(conn, log)
		c.handle.end(l, nil)
		return
	}

	log.Info().Uint64("session_id", conn.ID()).Msg("joined realm")

	if onJoin != nil {
		l.exec(func() { onJoin(l.ctx, conn) })
	}

	err = l.run(conn)
	l.stop()

	if err != nil {
		log.Error().Err(err).Msg("session lost")
		c.handle.end(l, fmt.Errorf("session lost: %w", err))
		return
	}

	c.close(conn, log)
	log.Info().Msg("left realm")
	c.handle.end(l, nil)
}

func (c *Connector) close(conn bus.Conn, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), c.leaveTimeout)
	defer cancel()

	if err := conn.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("leave did not complete cleanly")
	}
}
