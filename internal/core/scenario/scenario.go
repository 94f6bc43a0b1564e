// Package scenario loads message files: named payloads with a send mode
// and time field, run together against a publisher.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/stimulus/internal/core/payload"
	"github.com/hay-kot/stimulus/internal/core/schedule"
	"github.com/hay-kot/stimulus/internal/core/validate"
)

const (
	defaultMode = "Programado"
	defaultTime = "00:00:00"
)

// Scenario is the root of a message file.
type Scenario struct {
	Messages []Message `json:"messages"`
}

// Message is one entry of a message file.
type Message struct {
	Name   string         `json:"name"`
	Active *bool          `json:"active,omitempty"`
	Mode   string         `json:"mode,omitempty"`
	Time   string         `json:"time,omitempty"`
	Fields map[string]any `json:"fields"`
}

// IsActive reports whether the message takes part in runs. Messages
// without the flag are active.
func (m Message) IsActive() bool {
	return m.Active == nil || *m.Active
}

// SendMode returns the parsed mode, defaulting to a countdown.
func (m Message) SendMode() (schedule.Mode, error) {
	if m.Mode == "" {
		return schedule.ParseMode(defaultMode)
	}
	return schedule.ParseMode(m.Mode)
}

// TimeField returns the time field, defaulting to 00:00:00.
func (m Message) TimeField() string {
	if m.Time == "" {
		return defaultTime
	}
	return m.Time
}

// Plan converts the message's mode and time into a schedule plan. For
// on-demand messages the time field is a countdown applied on top of the
// immediate send.
func (m Message) Plan() (schedule.Plan, error) {
	mode, err := m.SendMode()
	if err != nil {
		return schedule.Plan{}, err
	}

	if mode == schedule.Immediate {
		extra, _ := schedule.ParseCountdown(m.TimeField())
		return schedule.Plan{Mode: schedule.Immediate, Extra: extra}, nil
	}
	return schedule.Plan{Mode: mode, Time: m.TimeField()}, nil
}

// Payload builds the message body sent on the bus:
// {"name": name, "fields": {typed values}}. Field values are re-read from
// their text form so "123" and 123 both publish as an integer.
func (m Message) Payload() map[string]any {
	fields := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		switch v := v.(type) {
		case string:
			fields[k] = payload.Infer(v)
		case json.Number:
			fields[k] = payload.Infer(v.String())
		default:
			fields[k] = payload.Clone(v)
		}
	}
	return map[string]any{"name": m.Name, "fields": fields}
}

// Validate checks every message using criterio field errors.
func (s Scenario) Validate() error {
	if len(s.Messages) == 0 {
		return criterio.NewFieldErrors("messages", fmt.Errorf("array is empty"))
	}

	var errs criterio.FieldErrorsBuilder
	seen := make(map[string]bool)

	for i, msg := range s.Messages {
		field := fmt.Sprintf("messages[%d]", i)

		if err := validate.MessageName(msg.Name); err != nil {
			errs = errs.Append(field+".name", err)
			continue
		}
		if seen[msg.Name] {
			errs = errs.Append(field+".name", fmt.Errorf("duplicate name %q", msg.Name))
			continue
		}
		seen[msg.Name] = true

		if _, err := msg.SendMode(); err != nil {
			errs = errs.Append(field+".mode", err)
		}
	}

	return errs.ToError()
}

// Active returns the active messages in file order.
func (s Scenario) Active() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.IsActive() {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the message with the given name.
func (s Scenario) Find(name string) (Message, bool) {
	for _, m := range s.Messages {
		if m.Name == name {
			return m, true
		}
	}
	return Message{}, false
}

// Parse decodes and validates a message file.
func Parse(r io.Reader) (*Scenario, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and validates the message file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Outcome records what happened to one message during a run.
type Outcome struct {
	Name    string        `json:"name"`
	Topic   string        `json:"topic"`
	Mode    schedule.Mode `json:"mode,omitempty"`
	Delay   time.Duration `json:"delay"`
	Skipped bool          `json:"skipped,omitempty"`
	Err     error         `json:"-"`
}

// Failed reports whether the message was attempted and failed.
func (o Outcome) Failed() bool { return o.Err != nil }
