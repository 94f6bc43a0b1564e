// Package schedule turns a send mode and an "HH:MM:SS" field into the
// delay to wait before publishing.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/pkg/clock"
)

// Mode selects how a time field is interpreted.
type Mode string

const (
	// Immediate sends as soon as possible; the time field is ignored.
	Immediate Mode = "immediate"
	// Countdown waits a relative HH:MM:SS duration.
	Countdown Mode = "countdown"
	// WallClock waits until the next occurrence of an HH:MM:SS time of day.
	WallClock Mode = "wallclock"
)

var (
	ErrInvalidTime = errors.New("invalid time of day")
	ErrUnknownMode = errors.New("unknown send mode")
)

// ParseMode accepts the canonical mode names plus the labels used by
// scenario files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate", "now", "on-demand", "ondemand":
		return Immediate, nil
	case "countdown", "relative", "programado":
		return Countdown, nil
	case "wallclock", "wall-clock", "absolute", "clock", "hora de sistema":
		return WallClock, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Resolve computes the delay for mode relative to now.
//
// Countdown input that does not parse resolves to zero without an error.
// WallClock input that does not parse is returned as ErrInvalidTime.
func Resolve(mode Mode, field string, now time.Time) (time.Duration, error) {
	switch mode {
	case Immediate:
		return 0, nil
	case Countdown:
		d, _ := ParseCountdown(field)
		return d, nil
	case WallClock:
		h, m, s, err := ParseTimeOfDay(field)
		if err != nil {
			return 0, err
		}
		return untilTimeOfDay(now, h, m, s), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// ParseCountdown parses "HH:MM:SS" as a relative duration. Each part must
// be a non-negative integer; minutes and seconds may exceed 59.
func ParseCountdown(field string) (time.Duration, error) {
	parts, err := splitHMS(field)
	if err != nil {
		return 0, err
	}

	var total int64
	for i, unit := range [3]int64{3600, 60, 1} {
		n := int64(parts[i])
		if n > (maxCountdownSeconds-total)/unit {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTime, field)
		}
		total += n * unit
	}
	return time.Duration(total) * time.Second, nil
}

// maxCountdownSeconds is the longest countdown a time.Duration can hold.
const maxCountdownSeconds = int64(math.MaxInt64 / time.Second)

// ParseTimeOfDay parses "HH:MM:SS" as a clock time, 00:00:00 to 23:59:59.
func ParseTimeOfDay(field string) (hour, minute, second int, err error) {
	parts, err := splitHMS(field)
	if err != nil {
		return 0, 0, 0, err
	}
	if parts[0] > 23 || parts[1] > 59 || parts[2] > 59 {
		return 0, 0, 0, fmt.Errorf("%w: %q out of range", ErrInvalidTime, field)
	}
	return parts[0], parts[1], parts[2], nil
}

func splitHMS(field string) ([3]int, error) {
	var out [3]int

	parts := strings.Split(strings.TrimSpace(field), ":")
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidTime, field)
	}

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidTime, field)
		}
		out[i] = n
	}

	return out, nil
}

// untilTimeOfDay returns the wait until the next h:m:s in now's location.
// A time equal to now is today's occurrence; one already past is
// tomorrow's, so the result is always in [0, 24h).
func untilTimeOfDay(now time.Time, h, m, s int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, now.Location())
	if target.Before(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now)
}

// Plan describes when a message should go out. Extra is added on top of
// the resolved delay, which gives "on demand, but after N seconds".
type Plan struct {
	Mode  Mode
	Time  string
	Extra time.Duration
}

// Scheduler resolves plans against an injected clock.
type Scheduler struct {
	clock clock.Clock
	log   zerolog.Logger
}

// New creates a Scheduler.
func New(c clock.Clock, log zerolog.Logger) *Scheduler {
	return &Scheduler{clock: c, log: log}
}

// Delay resolves p to a non-negative duration.
func (s *Scheduler) Delay(p Plan) (time.Duration, error) {
	if p.Extra < 0 {
		return 0, fmt.Errorf("negative extra delay %s", p.Extra)
	}

	if p.Mode == Countdown {
		if _, err := ParseCountdown(p.Time); err != nil {
			s.log.Warn().Err(err).Str("time", p.Time).Msg("countdown not parsable, sending without delay")
		}
	}

	d, err := Resolve(p.Mode, p.Time, s.clock.Now())
	if err != nil {
		return 0, err
	}

	if d > math.MaxInt64-p.Extra {
		return 0, fmt.Errorf("%w: delay %s plus %s out of range", ErrInvalidTime, d, p.Extra)
	}
	return d + p.Extra, nil
}

// At returns the wall-clock time a delay resolves to.
func (s *Scheduler) At(d time.Duration) time.Time {
	return s.clock.Now().Add(d)
}
