package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/stimulus/internal/core/schedule"
)

const sample = `{
  "messages": [
    {"name": "alarma", "active": true, "mode": "Programado", "time": "00:00:05",
     "fields": {"valor": "123", "temp": 21.5, "estado": "OK"}},
    {"name": "cierre", "mode": "Hora de sistema", "time": "23:59:00", "fields": {"n": 7}},
    {"name": "manual", "mode": "On-demand", "time": "00:00:02", "fields": {}},
    {"name": "apagado", "active": false, "fields": {}}
  ]
}`

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)

	active := s.Active()
	require.Len(t, active, 3)
	assert.Equal(t, "manual", active[2].Name)

	m, ok := s.Find("apagado")
	require.True(t, ok)
	assert.False(t, m.IsActive())

	_, ok = s.Find("nope")
	assert.False(t, ok)
}

func TestMessage_Payload(t *testing.T) {
	s, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	got := s.Messages[0].Payload()
	assert.Equal(t, map[string]any{
		"name": "alarma",
		"fields": map[string]any{
			"valor":  int64(123),
			"temp":   21.5,
			"estado": "OK",
		},
	}, got)
}

func TestMessage_Plan(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want schedule.Plan
	}{
		{
			name: "countdown",
			msg:  Message{Mode: "Programado", Time: "00:01:30"},
			want: schedule.Plan{Mode: schedule.Countdown, Time: "00:01:30"},
		},
		{
			name: "wall clock",
			msg:  Message{Mode: "Hora de sistema", Time: "08:00:00"},
			want: schedule.Plan{Mode: schedule.WallClock, Time: "08:00:00"},
		},
		{
			name: "on demand carries its countdown as extra delay",
			msg:  Message{Mode: "On-demand", Time: "00:00:10"},
			want: schedule.Plan{Mode: schedule.Immediate, Extra: 10 * time.Second},
		},
		{
			name: "defaults",
			msg:  Message{},
			want: schedule.Plan{Mode: schedule.Countdown, Time: "00:00:00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.msg.Plan()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantField string
	}{
		{"empty", `{"messages": []}`, "messages"},
		{"missing name", `{"messages": [{"fields": {}}]}`, "messages[0].name"},
		{"duplicate name", `{"messages": [{"name": "a"}, {"name": "a"}]}`, "messages[1].name"},
		{"bad mode", `{"messages": [{"name": "a", "mode": "whenever"}]}`, "messages[0].mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)

			var fieldErrs criterio.FieldErrors
			require.True(t, errors.As(err, &fieldErrs), "expected field errors, got %v", err)
			require.NotEmpty(t, fieldErrs)
			assert.Equal(t, tt.wantField, fieldErrs[0].Field)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Messages, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
