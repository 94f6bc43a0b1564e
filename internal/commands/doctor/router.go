package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

// RouterCheck joins the configured realm once and leaves again.
type RouterCheck struct {
	dialer   bus.Dialer
	endpoint bus.Endpoint
	topics   []string
	timeout  time.Duration
}

// NewRouterCheck creates a router reachability check. Each topic is
// subscribed once to confirm the router accepts it.
func NewRouterCheck(dialer bus.Dialer, ep bus.Endpoint, topics []string, timeout time.Duration) *RouterCheck {
	return &RouterCheck{dialer: dialer, endpoint: ep, topics: topics, timeout: timeout}
}

func (c *RouterCheck) Name() string {
	return "Router"
}

func (c *RouterCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.endpoint.Validate(); err != nil {
		result.Fail("Endpoint", err.Error())
		return result
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := c.dialer.Dial(ctx, c.endpoint)
	if err != nil {
		result.Fail("Join "+c.endpoint.Realm, err.Error())
		return result
	}

	result.Pass("Join "+c.endpoint.Realm, fmt.Sprintf("session %d in %s", conn.ID(), time.Since(start).Round(time.Millisecond)))

	for _, topic := range c.topics {
		if err := conn.Subscribe(ctx, topic, func(bus.Event) {}); err != nil {
			result.Fail("Subscribe "+topic, err.Error())
			continue
		}
		result.Pass("Subscribe "+topic, "")
	}

	if err := conn.Close(ctx); err != nil {
		result.Warn("Leave", err.Error())
	}

	return result
}
