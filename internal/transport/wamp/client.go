package wamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

const defaultReadLimit = 1 << 20

// Dialer opens WAMP sessions over websocket. It implements bus.Dialer.
type Dialer struct {
	log        zerolog.Logger
	httpClient *http.Client
	readLimit  int64
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithLogger sets the logger used by dialled connections.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dialer) { d.log = log }
}

// WithHTTPClient sets the HTTP client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithReadLimit caps the size of a single incoming message.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// NewDialer creates a Dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		log:       zerolog.Nop(),
		readLimit: defaultReadLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ bus.Dialer = (*Dialer)(nil)

// Dial connects to ep.URL and joins ep.Realm. ctx bounds the handshake
// only.
func (d *Dialer) Dial(ctx context.Context, ep bus.Endpoint) (bus.Conn, error) {
	ws, _, err := websocket.Dial(ctx, ep.URL, &websocket.DialOptions{
		HTTPClient:   d.httpClient,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}

	if ws.Subprotocol() != Subprotocol {
		ws.Close(websocket.StatusPolicyViolation, "client must speak "+Subprotocol) //nolint:errcheck
		return nil, fmt.Errorf("dial %s: router did not accept %s", ep.URL, Subprotocol)
	}
	ws.SetReadLimit(d.readLimit)

	id, err := join(ctx, ws, ep.Realm)
	if err != nil {
		ws.CloseNow() //nolint:errcheck
		return nil, fmt.Errorf("join realm %s: %w", ep.Realm, err)
	}

	log := d.log.With().Uint64("wamp_session", id).Logger()
	c := newConn(ws, id, log)
	go c.readLoop()

	log.Debug().Str("url", ep.URL).Str("realm", ep.Realm).Msg("wamp session established")
	return c, nil
}

// join performs the HELLO/WELCOME exchange and returns the session id.
func join(ctx context.Context, ws *websocket.Conn, realm string) (uint64, error) {
	if err := wsjson.Write(ctx, ws, helloMsg(realm)); err != nil {
		return 0, fmt.Errorf("send hello: %w", err)
	}

	var raw []json.RawMessage
	if err := wsjson.Read(ctx, ws, &raw); err != nil {
		return 0, fmt.Errorf("read welcome: %w", err)
	}

	f, err := decodeFrame(raw)
	if err != nil {
		return 0, err
	}

	switch f.code {
	case codeWelcome:
		if err := f.need(1); err != nil {
			return 0, err
		}
		return f.id(0)
	case codeAbort:
		return 0, f.routerError()
	default:
		return 0, fmt.Errorf("%w: expected WELCOME, got message %d", ErrProtocol, f.code)
	}
}

// IsRouterError reports whether err carries the given router error URI.
func IsRouterError(err error, uri string) bool {
	var re *Error
	return errors.As(err, &re) && re.URI == uri
}
