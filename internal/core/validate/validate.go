// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"strings"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

// MessageName validates a message name is non-empty after trimming whitespace.
func MessageName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Topic validates a topic URI.
func Topic(topic string) error {
	return bus.ValidateTopic(topic)
}

// Topics validates every topic and rejects duplicates.
func Topics(topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	seen := make(map[string]bool, len(topics))
	for _, t := range topics {
		if err := Topic(t); err != nil {
			return err
		}
		if seen[t] {
			return fmt.Errorf("duplicate topic %q", t)
		}
		seen[t] = true
	}
	return nil
}

// Dedupe returns topics with blanks and repeats removed, keeping first
// occurrence order.
func Dedupe(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
