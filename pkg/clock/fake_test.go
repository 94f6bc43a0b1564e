package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFakeClock_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)

	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"first", "second"}, order)

	c.Advance(time.Second)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeClock_StopPreventsFire(t *testing.T) {
	c := Fake(epoch)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.Equal(t, 1, c.PendingCount())

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_After(t *testing.T) {
	c := Fake(epoch)

	ch := c.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(5*time.Second), got)
	default:
		t.Fatal("did not fire after advance")
	}
}

func TestFakeClock_WaitForTimers(t *testing.T) {
	c := Fake(epoch)

	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine never woke")
	}
}

func TestFakeClock_Set(t *testing.T) {
	c := Fake(epoch)
	c.Set(epoch.Add(time.Hour))
	assert.Equal(t, epoch.Add(time.Hour), c.Now())
}
