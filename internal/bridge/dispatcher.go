package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/internal/core/payload"
	"github.com/hay-kot/stimulus/internal/core/session"
)

var (
	// ErrInvalidRequest wraps validation failures of a SendRequest.
	ErrInvalidRequest = errors.New("invalid send request")
	// ErrDropped is returned by Send when the session ended before the
	// publish ran.
	ErrDropped = errors.New("send dropped: session ended before publish")
)

// SendRequest is one message to publish after Delay.
type SendRequest struct {
	Topic   string
	Message any
	Delay   time.Duration
}

// Validate checks the topic and that Delay is not negative.
func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Topic, validation.Required, validation.By(topicRule)),
		validation.Field(&r.Delay, validation.Min(time.Duration(0))),
	)
}

func topicRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return bus.ValidateTopic(s)
}

// Dispatcher hands send requests to the publisher session. The publish
// itself always runs on the session goroutine.
type Dispatcher struct {
	handle   *session.Handle
	recorder messaging.Recorder
	notifier Notifier
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher publishing through h.
func NewDispatcher(h *session.Handle, opts ...Option) *Dispatcher {
	o := newOptions(opts)
	return newDispatcher(h, o)
}

func newDispatcher(h *session.Handle, o options) *Dispatcher {
	return &Dispatcher{
		handle:   h,
		recorder: o.recorder,
		notifier: o.notifier,
		log:      o.log.With().Str("component", "dispatcher").Logger(),
	}
}

// SendNow schedules message on topic after delay and returns immediately.
// Failures are reported to the logger and the Notifier, never to the
// caller.
func (d *Dispatcher) SendNow(topic string, message any, delay time.Duration) {
	req := SendRequest{Topic: topic, Message: message, Delay: delay}
	if err := d.Submit(req); err != nil {
		d.reject(req, err)
	}
}

// Submit schedules req and returns immediately. Unlike SendNow it returns
// validation and no-session errors; publish failures still go to the
// Notifier.
func (d *Dispatcher) Submit(req SendRequest) error {
	return d.submit(req, nil)
}

// Send schedules req and waits until the publish attempt completes, the
// session ends, or ctx is done.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) error {
	result := make(chan error, 1)
	ended := d.handle.Done()

	if err := d.submit(req, func(err error) { result <- err }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ended:
		select {
		case err := <-result:
			return err
		default:
			return ErrDropped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) submit(req SendRequest, done func(error)) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	snapshot := payload.Clone(req.Message)
	topic := req.Topic

	err := d.handle.SubmitAfter(req.Delay, func(ctx context.Context, conn bus.Conn) {
		err := d.publish(ctx, conn, topic, snapshot)
		if done != nil {
			done(err)
		}
	})
	if err != nil {
		return err
	}

	d.log.Debug().Str("topic", topic).Dur("delay", req.Delay).Msg("send scheduled")
	return nil
}

// publish runs on the session goroutine. The delivery log entry is
// written only after the bus accepted the message.
func (d *Dispatcher) publish(ctx context.Context, conn bus.Conn, topic string, message any) error {
	if err := conn.Publish(ctx, topic, message); err != nil {
		d.log.Error().Err(err).Str("topic", topic).Msg("publish failed")
		d.notifier.NotifyPublishFailure(topic, err)
		return err
	}

	d.recorder.Record(messaging.Entry{
		Kind:    messaging.KindStimulus,
		Topic:   topic,
		Message: message,
	})
	d.log.Info().Str("topic", topic).Msg("message published")
	return nil
}

func (d *Dispatcher) reject(req SendRequest, err error) {
	if errors.Is(err, session.ErrNoSession) {
		d.notifier.NotifyNoSession(req.Topic)
		d.log.Warn().Str("topic", req.Topic).Msg("no active session, send dropped")
		return
	}
	d.notifier.NotifySendRejected(req.Topic, err)
	d.log.Warn().Err(err).Str("topic", req.Topic).Msg("send rejected")
}
