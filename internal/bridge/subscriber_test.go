package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/bus/bustest"
	"github.com/hay-kot/stimulus/internal/core/messaging"
)

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
		return bus.Event{}
	}
}

func TestSubscriber_PartialFailure(t *testing.T) {
	f := newFixture(t)
	conn := f.startSubscriber(t, []string{"com.test.a", "com.test bad", "com.test.c"}, nil)

	subs := f.svc.Subscriber().Subscriptions()
	require.Len(t, subs, 3)

	assert.True(t, subs[0].Active)
	assert.False(t, subs[1].Active)
	assert.ErrorIs(t, subs[1].Err, bus.ErrInvalidTopic)
	assert.True(t, subs[2].Active)

	assert.ElementsMatch(t, []string{"com.test.a", "com.test.c"}, conn.Topics())

	n := f.notifier.All()
	require.Len(t, n, 1)
	assert.Equal(t, "subscribe", n[0].kind)
	assert.Equal(t, "com.test bad", n[0].topic)
}

func TestSubscriber_RouterRejection(t *testing.T) {
	conn := bustest.NewConn(1)
	conn.SubscribeErr = func(topic string) error {
		if topic == "com.test.denied" {
			return errors.New("wamp.error.not_authorized")
		}
		return nil
	}
	dialer := bus.DialerFunc(func(context.Context, bus.Endpoint) (bus.Conn, error) { return conn, nil })

	notifier := &memNotifier{}
	sub := NewSubscriber(dialer, WithNotifier(notifier))
	t.Cleanup(func() { _ = sub.Stop(context.Background()) })

	require.NoError(t, sub.Start(bus.Endpoint{URL: testURL, Realm: testRealm}, []string{"com.test.a", "com.test.denied"}, nil))
	require.NoError(t, sub.Handle().WaitJoined(testCtx(t)))
	flush(t, sub.Handle())

	subs := sub.Subscriptions()
	require.Len(t, subs, 2)
	assert.True(t, subs[0].Active)
	assert.False(t, subs[1].Active)
	assert.EqualError(t, subs[1].Err, "wamp.error.not_authorized")
	assert.Equal(t, []string{"com.test.a"}, conn.Topics())
	assert.Len(t, notifier.All(), 1)
}

func TestSubscriber_EventsAreLoggedAndDelivered(t *testing.T) {
	f := newFixture(t)
	events := make(chan bus.Event, 4)
	conn := f.startSubscriber(t, []string{"com.test.a"}, func(ev bus.Event) { events <- ev })

	require.Equal(t, 1, conn.Emit("com.test.a", []any{"ignored"}, map[string]any{"message": "hola"}))
	ev := waitEvent(t, events)
	assert.Equal(t, "com.test.a", ev.Topic)
	assert.Equal(t, "hola", ev.Content())

	conn.Emit("com.test.a", []any{1, 2}, nil)
	waitEvent(t, events)

	entries := f.log.All()
	require.Len(t, entries, 2)
	assert.Equal(t, messaging.KindEvent, entries[0].Kind)
	assert.Equal(t, messaging.HeaderEvent, entries[0].Kind.Header())
	assert.Equal(t, map[string]any{"message": "hola"}, entries[0].Message)
	assert.Equal(t, map[string]any{"message": []any{1, 2}}, entries[1].Message)
}

func TestSubscriber_CallbacksRunInOrder(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	const n = 50

	conn := f.startSubscriber(t, []string{"com.test.a"}, func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Args[0].(int))
		if len(got) == n {
			close(done)
		}
	})

	for i := range n {
		conn.Emit("com.test.a", []any{i}, nil)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callbacks not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSubscriber_WithInvoker(t *testing.T) {
	pending := make(chan func(), 4)
	f := newFixture(t, WithInvoker(func(fn func()) { pending <- fn }))

	called := make(chan bus.Event, 1)
	conn := f.startSubscriber(t, []string{"com.test.a"}, func(ev bus.Event) { called <- ev })

	conn.Emit("com.test.a", []any{"x"}, nil)

	var fn func()
	select {
	case fn = <-pending:
	case <-time.After(5 * time.Second):
		t.Fatal("invoker not used")
	}

	select {
	case <-called:
		t.Fatal("callback ran before the invoker called it")
	default:
	}

	fn()
	assert.Equal(t, "com.test.a", waitEvent(t, called).Topic)
}

func TestSubscriber_DeduplicatesTopics(t *testing.T) {
	f := newFixture(t)
	conn := f.startSubscriber(t, []string{"com.test.a", " ", "com.test.a"}, nil)

	subs := f.svc.Subscriber().Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"com.test.a"}, conn.Topics())
}

func TestSubscriber_RequiresTopics(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.svc.StartSubscriber(testURL, testRealm, []string{"", " "}, nil))
	assert.Empty(t, f.dialer.Conns())
}

func TestSubscriber_EventsAfterLeaveAreDropped(t *testing.T) {
	f := newFixture(t)
	events := make(chan bus.Event, 1)
	conn := f.startSubscriber(t, []string{"com.test.a"}, func(ev bus.Event) { events <- ev })

	require.NoError(t, f.svc.Subscriber().Stop(testCtx(t)))
	conn.Emit("com.test.a", []any{"late"}, nil)

	select {
	case <-events:
		t.Fatal("event delivered after leave")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, f.log.All())
}
