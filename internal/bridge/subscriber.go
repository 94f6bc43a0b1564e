package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/internal/core/session"
	"github.com/hay-kot/stimulus/internal/core/validate"
)

// SubscriptionStatus is the outcome of subscribing to one topic.
type SubscriptionStatus struct {
	Topic  string `json:"topic"`
	Active bool   `json:"active"`
	Err    error  `json:"-"`
}

// Subscriber owns a subscriber session: it joins, subscribes to a set of
// topics, logs every event, and hands events to a callback.
type Subscriber struct {
	connector *session.Connector
	recorder  messaging.Recorder
	notifier  Notifier
	log       zerolog.Logger
	invoke    func(func())

	mu     sync.Mutex
	status []SubscriptionStatus
}

// NewSubscriber creates a Subscriber dialling through dialer.
func NewSubscriber(dialer bus.Dialer, opts ...Option) *Subscriber {
	return newSubscriber(dialer, newOptions(opts))
}

func newSubscriber(dialer bus.Dialer, o options) *Subscriber {
	invoke := o.invoker
	if invoke == nil {
		invoke = (&fifoInvoker{log: o.log}).invoke
	}
	return &Subscriber{
		connector: session.NewConnector("subscriber", dialer, o.connectorOptions("subscriber")...),
		recorder:  o.recorder,
		notifier:  o.notifier,
		log:       o.log.With().Str("component", "subscriber").Logger(),
		invoke:    invoke,
	}
}

// Handle returns the subscriber session handle.
func (s *Subscriber) Handle() *session.Handle { return s.connector.Handle() }

// Start connects to ep and, once joined, subscribes to each topic. Blank
// and repeated topics are ignored. A topic that fails to subscribe is
// logged and reported and the rest still subscribe; see Subscriptions.
// Start returns without waiting for the join.
func (s *Subscriber) Start(ep bus.Endpoint, topics []string, onMessage func(bus.Event)) error {
	set := validate.Dedupe(topics)
	if len(set) == 0 {
		return fmt.Errorf("subscriber: at least one topic is required")
	}

	status := make([]SubscriptionStatus, len(set))
	for i, t := range set {
		status[i] = SubscriptionStatus{Topic: t}
	}

	// Held across Connect so the join callback cannot record results
	// before the new status table is in place.
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.connector.Connect(ep, func(ctx context.Context, conn bus.Conn) {
		s.subscribeAll(ctx, conn, set, onMessage)
	})
	if err != nil {
		return err
	}
	s.status = status
	return nil
}

func (s *Subscriber) subscribeAll(ctx context.Context, conn bus.Conn, topics []string, onMessage func(bus.Event)) {
	ok := 0
	for i, topic := range topics {
		err := conn.Subscribe(ctx, topic, func(ev bus.Event) {
			// Called on the transport goroutine; move to the session loop.
			if err := session.Enqueue(ctx, func(context.Context, bus.Conn) {
				s.received(ev, onMessage)
			}); err != nil {
				s.log.Debug().Str("topic", ev.Topic).Msg("event arrived after session ended")
			}
		})

		s.mu.Lock()
		s.status[i].Active = err == nil
		s.status[i].Err = err
		s.mu.Unlock()

		if err != nil {
			s.log.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
			s.notifier.NotifySubscribeFailure(topic, err)
			continue
		}
		ok++
		s.log.Info().Str("topic", topic).Msg("subscribed")
	}

	s.log.Info().Int("subscribed", ok).Int("requested", len(topics)).Msg("subscriptions complete")
}

// received runs on the session loop.
func (s *Subscriber) received(ev bus.Event, onMessage func(bus.Event)) {
	s.recorder.Record(messaging.Entry{
		Kind:    messaging.KindEvent,
		Topic:   ev.Topic,
		Message: map[string]any{"message": ev.Content()},
	})

	if onMessage != nil {
		s.invoke(func() { onMessage(ev) })
	}
}

// Subscriptions returns the per-topic outcome of the last Start. Topics
// whose subscribe has not completed yet are inactive with no error.
func (s *Subscriber) Subscriptions() []SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubscriptionStatus(nil), s.status...)
}

// Stop leaves the subscriber session.
func (s *Subscriber) Stop(ctx context.Context) error {
	return s.connector.Handle().Leave(ctx)
}

// fifoInvoker runs callbacks one at a time, in order, on a goroutine of
// its own that exists only while callbacks are pending.
type fifoInvoker struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
}

func (q *fifoInvoker) invoke(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *fifoInvoker) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.call(fn)
	}
}

func (q *fifoInvoker) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("subscriber callback panicked")
		}
	}()
	fn()
}
