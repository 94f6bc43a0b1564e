package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return &cfg
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.ValidateDeep(filepath.Join(t.TempDir(), "config.yaml")))
}

func TestValidateDeep_ConfigPathIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "config", fieldErrs[0].Field)
	assert.Contains(t, fieldErrs[0].Err.Error(), "is a directory")
}

func TestValidateDeep_LogDirIsFile(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.Log.Dir = file

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "log.dir", fieldErrs[0].Field)
}

func TestValidateDeep_IncludesFieldErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log.Rotation = "weekly"
	cfg.Endpoint.Realm = ""

	err := cfg.ValidateDeep("")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 2)
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantItem string
	}{
		{"no default topic", func(c *Config) { c.Publisher.Topic = "" }, "publisher.topic"},
		{"no subscriber topics", func(c *Config) { c.Subscriber.Topics = nil }, "subscriber.topics"},
		{"plain remote websocket", func(c *Config) { c.Endpoint.URL = "ws://bus.example.com/ws" }, "endpoint.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			warnings := cfg.Warnings()
			require.Len(t, warnings, 1)
			assert.Equal(t, tt.wantItem, warnings[0].Item)
		})
	}
}

func TestWarnings_DefaultsAreClean(t *testing.T) {
	assert.Empty(t, validConfig(t).Warnings())
}
