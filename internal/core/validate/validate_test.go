package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "alarma-1", false},
		{"valid with spaces", "Mensaje de prueba", false},
		{"empty string", "", true},
		{"only spaces", "   ", true},
		{"only tabs", "\t\t", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MessageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("MessageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantErr bool
	}{
		{"single", []string{"com.ads.midshmi.topic"}, false},
		{"several", []string{"a.b", "a.c"}, false},
		{"empty list", nil, true},
		{"malformed", []string{"a.b", "a b"}, true},
		{"duplicate", []string{"a.b", "a.b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Topics(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Topics(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"b", " a ", "", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}
