package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/bus/bustest"
	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/internal/core/session"
	"github.com/hay-kot/stimulus/pkg/clock"
)

const (
	testURL   = "ws://127.0.0.1:60001/ws"
	testRealm = "default"
	testTopic = "com.ads.midshmi.topic"
)

// memLog is an in-memory messaging.Recorder. trace, if set, receives a
// marker for every record so tests can check ordering against publishes.
type memLog struct {
	mu      sync.Mutex
	entries []messaging.Entry
	trace   *trace
}

func (l *memLog) Record(e messaging.Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	if l.trace != nil {
		l.trace.add("record")
	}
}

func (l *memLog) All() []messaging.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]messaging.Entry(nil), l.entries...)
}

type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, s)
}

func (t *trace) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

type notification struct {
	kind  string
	topic string
	err   error
}

type memNotifier struct {
	mu   sync.Mutex
	list []notification
}

func (n *memNotifier) add(kind, topic string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notification{kind: kind, topic: topic, err: err})
}

func (n *memNotifier) NotifyNoSession(topic string) { n.add("no-session", topic, nil) }

func (n *memNotifier) NotifySendRejected(topic string, err error) { n.add("rejected", topic, err) }

func (n *memNotifier) NotifyPublishFailure(topic string, err error) { n.add("publish", topic, err) }

func (n *memNotifier) NotifySubscribeFailure(topic string, err error) {
	n.add("subscribe", topic, err)
}

func (n *memNotifier) All() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.list...)
}

type fixture struct {
	dialer   *bustest.Dialer
	clock    *clock.FakeClock
	log      *memLog
	notifier *memNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		dialer:   bustest.NewDialer(),
		clock:    clock.Fake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)),
		log:      &memLog{},
		notifier: &memNotifier{},
	}
	base := []Option{WithClock(f.clock), WithRecorder(f.log), WithNotifier(f.notifier)}
	f.svc = New(f.dialer, append(base, opts...)...)

	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })
	return f
}

// startPublisher joins the publisher session and returns its connection.
func (f *fixture) startPublisher(t *testing.T) *bustest.Conn {
	t.Helper()
	require.NoError(t, f.svc.StartPublisher(testURL, testRealm, testTopic))
	require.NoError(t, f.svc.Publisher().WaitJoined(testCtx(t)))
	return <-f.dialer.Dialed()
}

// startSubscriber joins the subscriber session, waits for its
// subscriptions to finish, and returns its connection.
func (f *fixture) startSubscriber(t *testing.T, topics []string, onMessage func(bus.Event)) *bustest.Conn {
	t.Helper()
	require.NoError(t, f.svc.StartSubscriber(testURL, testRealm, topics, onMessage))
	h := f.svc.Subscriber().Handle()
	require.NoError(t, h.WaitJoined(testCtx(t)))
	conn := <-f.dialer.Dialed()
	flush(t, h)
	return conn
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// flush blocks until every task queued on h before it has run.
func flush(t *testing.T, h *session.Handle) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, h.Submit(func(context.Context, bus.Conn) { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session loop did not drain")
	}
}
