// Package bus defines the transport-neutral contract between sessions and
// the message bus client.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Sentinel errors shared by transports.
var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrClosed       = errors.New("connection closed")
)

// Endpoint locates a realm on a router.
type Endpoint struct {
	URL   string `json:"url" yaml:"url"`
	Realm string `json:"realm" yaml:"realm"`
}

func (e Endpoint) String() string {
	return e.Realm + "@" + e.URL
}

// Validate checks that the URL is a websocket URL with a host and that a
// realm is set.
func (e Endpoint) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.URL, validation.Required, validation.By(websocketURL)),
		validation.Field(&e.Realm, validation.Required, validation.Length(1, 255)),
	)
}

func websocketURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// Event is a message delivered to a subscription.
type Event struct {
	Topic        string         `json:"topic"`
	Subscription uint64         `json:"subscription,omitempty"`
	Publication  uint64         `json:"publication,omitempty"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// Content returns the event body: the "message" keyword argument when the
// publisher sent a non-null one, otherwise the positional arguments. Empty
// values such as 0, "" or {} are kept as the body.
func (e Event) Content() any {
	if m, ok := e.Kwargs["message"]; ok && m != nil {
		return m
	}
	return e.Args
}

// Handler receives events for one subscription. Transports call it from
// their own reader goroutine.
type Handler func(Event)

// Conn is a joined session on the bus. Implementations are safe for use
// from multiple goroutines, but stimulus only drives them from the
// session's loop.
type Conn interface {
	// ID is the router-assigned session identifier.
	ID() uint64

	// Publish sends payload as the single positional argument on topic.
	Publish(ctx context.Context, topic string, payload any) error

	// Subscribe registers h for topic and waits for the router to confirm.
	Subscribe(ctx context.Context, topic string, h Handler) error

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err reports why Done was closed. Nil after a clean Close.
	Err() error

	// Close leaves the realm and tears down the connection.
	Close(ctx context.Context) error
}

// Dialer opens a connection and joins the endpoint's realm.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Conn, error) { return f(ctx, ep) }

// ValidateTopic applies the loose URI rules routers use: dot separated,
// non-empty components, no whitespace and no '#'.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, " \t\r\n#") {
		return fmt.Errorf("%w: %q contains whitespace or '#'", ErrInvalidTopic, topic)
	}
	for _, part := range strings.Split(topic, ".") {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty component", ErrInvalidTopic, topic)
		}
	}
	return nil
}
