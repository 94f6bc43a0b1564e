package bridge

import (
	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/internal/core/session"
	"github.com/hay-kot/stimulus/pkg/clock"
)

type options struct {
	log      zerolog.Logger
	recorder messaging.Recorder
	notifier Notifier
	clock    clock.Clock
	invoker  func(func())
	sessions []session.Option
}

// Option configures the Service and its parts.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		log:      zerolog.Nop(),
		recorder: messaging.Discard,
		notifier: NoOpNotifier{},
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRecorder sets the delivery log. The default discards entries.
func WithRecorder(r messaging.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithNotifier sets where failures that cannot be returned to a caller
// are reported.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithClock sets the clock used for delays and schedules.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithInvoker sets how subscriber callbacks are run. invoke receives each
// callback and must eventually call it, typically on the caller's own
// goroutine. The default runs callbacks in order on a dedicated goroutine.
func WithInvoker(invoke func(func())) Option {
	return func(o *options) { o.invoker = invoke }
}

// WithSessionOptions passes options to the publisher and subscriber
// connectors, such as timeouts.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessions = append(o.sessions, opts...) }
}

// connectorOptions returns the options for a connector, with the shared
// clock and a component logger first so explicit options win.
func (o options) connectorOptions(component string) []session.Option {
	opts := []session.Option{
		session.WithClock(o.clock),
		session.WithLogger(o.log.With().Str("component", component).Logger()),
	}
	return append(opts, o.sessions...)
}
