// Package messaging defines the delivery log: one entry for every message
// stimulus publishes or receives.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes sent stimuli from received events.
type Kind string

const (
	KindStimulus Kind = "stimulus"
	KindEvent    Kind = "event"
)

// Headers as written to the log file.
const (
	HeaderStimulus = "Stimulus message"
	HeaderEvent    = "Sys answer"
)

// TimestampLayout is the log file timestamp format, in local time.
const TimestampLayout = "2006-01-02 15:04:05"

// Header returns the log header for k.
func (k Kind) Header() string {
	switch k {
	case KindEvent:
		return HeaderEvent
	default:
		return HeaderStimulus
	}
}

// KindFromHeader is the inverse of Kind.Header.
func KindFromHeader(h string) (Kind, error) {
	switch h {
	case HeaderStimulus:
		return KindStimulus, nil
	case HeaderEvent:
		return KindEvent, nil
	default:
		return "", fmt.Errorf("unknown header %q", h)
	}
}

// Entry is one delivery log record.
type Entry struct {
	Time    time.Time
	Kind    Kind
	Topic   string
	Message any
}

type wireEntry struct {
	Timestamp string `json:"timestamp"`
	Header    string `json:"header"`
	Topic     string `json:"topic,omitempty"`
	Message   any    `json:"message"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntry{
		Timestamp: e.Time.Local().Format(TimestampLayout),
		Header:    e.Kind.Header(),
		Topic:     e.Topic,
		Message:   e.Message,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.ParseInLocation(TimestampLayout, w.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}

	kind, err := KindFromHeader(w.Header)
	if err != nil {
		return err
	}

	*e = Entry{Time: ts, Kind: kind, Topic: w.Topic, Message: w.Message}
	return nil
}

// Recorder appends entries to the delivery log. Record never fails from
// the caller's point of view; implementations report their own errors.
type Recorder interface {
	Record(entry Entry)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Entry)

func (f RecorderFunc) Record(e Entry) { f(e) }

// Discard is a Recorder that drops every entry.
var Discard Recorder = RecorderFunc(func(Entry) {})
