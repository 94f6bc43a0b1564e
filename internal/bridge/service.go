// Package bridge exposes the publisher and subscriber sessions to
// callers on arbitrary goroutines.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/scenario"
	"github.com/hay-kot/stimulus/internal/core/schedule"
	"github.com/hay-kot/stimulus/internal/core/session"
)

// TestMessage returns the fixed payload used to check a publisher end to
// end.
func TestMessage() map[string]any {
	return map[string]any{
		"name": "Mensaje de prueba",
		"fields": map[string]any{
			"valor":  123,
			"estado": "OK",
		},
	}
}

// Service owns one publisher session and one subscriber session.
type Service struct {
	publisher  *session.Connector
	dispatcher *Dispatcher
	subscriber *Subscriber
	scheduler  *schedule.Scheduler
	log        zerolog.Logger

	mu    sync.Mutex
	topic string
}

// New creates a Service whose sessions dial through dialer.
func New(dialer bus.Dialer, opts ...Option) *Service {
	o := newOptions(opts)

	publisher := session.NewConnector("publisher", dialer, o.connectorOptions("publisher")...)
	return &Service{
		publisher:  publisher,
		dispatcher: newDispatcher(publisher.Handle(), o),
		subscriber: newSubscriber(dialer, o),
		scheduler:  schedule.New(o.clock, o.log.With().Str("component", "scheduler").Logger()),
		log:        o.log,
	}
}

// Publisher returns the publisher session handle.
func (s *Service) Publisher() *session.Handle { return s.publisher.Handle() }

// Subscriber returns the subscription manager.
func (s *Service) Subscriber() *Subscriber { return s.subscriber }

// Dispatcher returns the publisher's dispatcher.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// StartPublisher connects the publisher session. topic becomes the
// default for sends that do not name one. It returns once the connect has
// started; use Publisher().WaitJoined to wait for the join.
func (s *Service) StartPublisher(url, realm, topic string) error {
	if topic != "" {
		if err := bus.ValidateTopic(topic); err != nil {
			return err
		}
	}

	if err := s.publisher.Connect(bus.Endpoint{URL: url, Realm: realm}, nil); err != nil {
		return fmt.Errorf("start publisher: %w", err)
	}

	s.mu.Lock()
	s.topic = topic
	s.mu.Unlock()
	return nil
}

// DefaultTopic returns the topic given to StartPublisher.
func (s *Service) DefaultTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

func (s *Service) resolveTopic(topic string) string {
	if topic != "" {
		return topic
	}
	return s.DefaultTopic()
}

// SendMessageNow publishes message on topic after delay. It never blocks
// and never fails; problems are logged and sent to the Notifier. An empty
// topic uses the publisher's default topic.
func (s *Service) SendMessageNow(topic string, message any, delay time.Duration) {
	s.dispatcher.SendNow(s.resolveTopic(topic), message, delay)
}

// Send publishes message on topic after delay and waits for the outcome.
func (s *Service) Send(ctx context.Context, topic string, message any, delay time.Duration) error {
	return s.dispatcher.Send(ctx, SendRequest{
		Topic:   s.resolveTopic(topic),
		Message: message,
		Delay:   delay,
	})
}

// ScheduleMessage resolves plan and schedules the send. Wall-clock times
// that do not parse are returned as errors; the send is not scheduled.
func (s *Service) ScheduleMessage(topic string, message any, plan schedule.Plan) (time.Duration, error) {
	delay, err := s.scheduler.Delay(plan)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", plan.Mode, err)
	}

	topic = s.resolveTopic(topic)
	if err := s.dispatcher.Submit(SendRequest{Topic: topic, Message: message, Delay: delay}); err != nil {
		return 0, err
	}

	s.log.Info().
		Str("topic", topic).
		Str("mode", string(plan.Mode)).
		Time("at", s.scheduler.At(delay)).
		Msg("message scheduled")
	return delay, nil
}

// StartSubscriber connects the subscriber session and subscribes to
// topics once joined. onMessage receives every event; see WithInvoker for
// the goroutine it runs on.
func (s *Service) StartSubscriber(url, realm string, topics []string, onMessage func(bus.Event)) error {
	if err := s.subscriber.Start(bus.Endpoint{URL: url, Realm: realm}, topics, onMessage); err != nil {
		return fmt.Errorf("start subscriber: %w", err)
	}
	return nil
}

// RunOptions controls RunScenario.
type RunOptions struct {
	// Topic overrides the publisher's default topic.
	Topic string
	// OnDemand includes on-demand messages, which automatic runs skip.
	OnDemand bool
	// Only restricts the run to the named messages.
	Only []string
}

// RunScenario schedules every active message of sc and waits until each
// has been published, has failed, or ctx ends. A message that cannot be
// scheduled is reported in its Outcome and the rest still run.
func (s *Service) RunScenario(ctx context.Context, sc *scenario.Scenario, opts RunOptions) ([]scenario.Outcome, error) {
	topic := s.resolveTopic(opts.Topic)
	if err := bus.ValidateTopic(topic); err != nil {
		return nil, fmt.Errorf("run scenario: %w", err)
	}

	only := make(map[string]bool, len(opts.Only))
	for _, name := range opts.Only {
		only[name] = true
	}

	messages := sc.Active()
	outcomes := make([]scenario.Outcome, len(messages))

	g, gctx := errgroup.WithContext(ctx)
	for i, msg := range messages {
		out := &outcomes[i]
		out.Name, out.Topic = msg.Name, topic

		if len(only) > 0 && !only[msg.Name] {
			out.Skipped = true
			continue
		}

		plan, err := msg.Plan()
		if err != nil {
			out.Err = err
			continue
		}
		out.Mode = plan.Mode

		if plan.Mode == schedule.Immediate && !opts.OnDemand && len(only) == 0 {
			out.Skipped = true
			continue
		}

		delay, err := s.scheduler.Delay(plan)
		if err != nil {
			out.Err = err
			s.log.Error().Err(err).Str("message", msg.Name).Msg("cannot schedule message")
			continue
		}
		out.Delay = delay

		body := msg.Payload()
		g.Go(func() error {
			out.Err = s.Send(gctx, topic, body, delay)
			if errors.Is(out.Err, context.Canceled) {
				return out.Err
			}
			return nil
		})
	}

	err := g.Wait()
	return outcomes, err
}

// Shutdown leaves both sessions, dropping any sends that have not fired.
func (s *Service) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.publisher.Handle().Leave(ctx) })
	g.Go(func() error { return s.subscriber.Stop(ctx) })
	return g.Wait()
}
