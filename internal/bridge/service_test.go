package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/stimulus/internal/core/scenario"
	"github.com/hay-kot/stimulus/internal/core/schedule"
	"github.com/hay-kot/stimulus/internal/core/session"
)

func TestService_StartPublisherTwice(t *testing.T) {
	f := newFixture(t)
	f.startPublisher(t)

	err := f.svc.StartPublisher(testURL, testRealm, testTopic)
	assert.ErrorIs(t, err, session.ErrAlreadyActive)
	assert.Len(t, f.dialer.Conns(), 1)
}

func TestService_StartPublisherInvalidEndpoint(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.svc.StartPublisher("http://127.0.0.1:60001/ws", testRealm, testTopic))
	assert.Error(t, f.svc.StartPublisher(testURL, "", testTopic))
	assert.Error(t, f.svc.StartPublisher(testURL, testRealm, "bad topic"))
	assert.Equal(t, session.StateDisconnected, f.svc.Publisher().State())
}

func TestService_ScheduleCountdown(t *testing.T) {
	f := newFixture(t)
	conn := f.startPublisher(t)

	delay, err := f.svc.ScheduleMessage(testTopic, "x", schedule.Plan{Mode: schedule.Countdown, Time: "00:01:30"})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, delay)

	f.clock.WaitForTimers(1)
	f.clock.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return len(conn.Published()) == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestService_ScheduleBadCountdownSendsImmediately(t *testing.T) {
	f := newFixture(t)
	conn := f.startPublisher(t)

	delay, err := f.svc.ScheduleMessage(testTopic, "x", schedule.Plan{Mode: schedule.Countdown, Time: "soon"})
	require.NoError(t, err)
	assert.Zero(t, delay)
	require.Eventually(t, func() bool { return len(conn.Published()) == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestService_ScheduleBadWallClock(t *testing.T) {
	f := newFixture(t)
	conn := f.startPublisher(t)

	_, err := f.svc.ScheduleMessage(testTopic, "x", schedule.Plan{Mode: schedule.WallClock, Time: "25:00:00"})
	assert.ErrorIs(t, err, schedule.ErrInvalidTime)

	flush(t, f.svc.Publisher())
	assert.Zero(t, f.clock.PendingCount())
	assert.Empty(t, conn.Published())
}

func TestService_ScheduleWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ScheduleMessage(testTopic, "x", schedule.Plan{Mode: schedule.Immediate})
	assert.ErrorIs(t, err, session.ErrNoSession)
}

const runScenario = `{
  "messages": [
    {"name": "countdown", "mode": "Programado", "time": "00:00:02", "fields": {"valor": "1"}},
    {"name": "broken", "mode": "Hora de sistema", "time": "99:00:00", "fields": {}},
    {"name": "manual", "mode": "On-demand", "time": "00:00:00", "fields": {"estado": "OK"}},
    {"name": "off", "active": false, "mode": "Programado", "fields": {}}
  ]
}`

func TestService_RunScenario(t *testing.T) {
	f := newFixture(t)
	conn := f.startPublisher(t)

	sc, err := scenario.Parse(strings.NewReader(runScenario))
	require.NoError(t, err)

	type result struct {
		outcomes []scenario.Outcome
		err      error
	}
	done := make(chan result, 1)
	go func() {
		out, err := f.svc.RunScenario(context.Background(), sc, RunOptions{})
		done <- result{out, err}
	}()

	f.clock.WaitForTimers(1)
	f.clock.Advance(2 * time.Second)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scenario did not finish")
	}
	require.NoError(t, res.err)
	require.Len(t, res.outcomes, 3)

	byName := map[string]scenario.Outcome{}
	for _, o := range res.outcomes {
		byName[o.Name] = o
	}

	assert.NoError(t, byName["countdown"].Err)
	assert.Equal(t, 2*time.Second, byName["countdown"].Delay)
	assert.ErrorIs(t, byName["broken"].Err, schedule.ErrInvalidTime)
	assert.True(t, byName["manual"].Skipped)

	pubs := conn.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, map[string]any{"name": "countdown", "fields": map[string]any{"valor": int64(1)}}, pubs[0].Payload)
}

func TestService_RunScenarioOnDemand(t *testing.T) {
	f := newFixture(t)
	conn := f.startPublisher(t)

	sc, err := scenario.Parse(strings.NewReader(runScenario))
	require.NoError(t, err)

	out, err := f.svc.RunScenario(testCtx(t), sc, RunOptions{Only: []string{"manual"}})
	require.NoError(t, err)

	var sent []string
	for _, o := range out {
		if !o.Skipped && o.Err == nil {
			sent = append(sent, o.Name)
		}
	}
	assert.Equal(t, []string{"manual"}, sent)
	require.Len(t, conn.Published(), 1)
}

func TestService_RunScenarioWithoutTopic(t *testing.T) {
	f := newFixture(t)
	sc, err := scenario.Parse(strings.NewReader(runScenario))
	require.NoError(t, err)

	_, err = f.svc.RunScenario(testCtx(t), sc, RunOptions{})
	assert.Error(t, err)
}

func TestService_Shutdown(t *testing.T) {
	f := newFixture(t)
	pub := f.startPublisher(t)
	sub := f.startSubscriber(t, []string{"com.test.a"}, nil)

	f.svc.SendMessageNow(testTopic, "never", time.Minute)
	f.clock.WaitForTimers(1)

	require.NoError(t, f.svc.Shutdown(testCtx(t)))

	assert.True(t, pub.Closed())
	assert.True(t, sub.Closed())
	assert.Equal(t, session.StateDisconnected, f.svc.Publisher().State())
	assert.Equal(t, session.StateDisconnected, f.svc.Subscriber().Handle().State())
	assert.Zero(t, f.clock.PendingCount())
}
