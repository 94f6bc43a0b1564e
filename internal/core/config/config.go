// Package config handles configuration loading and validation for stimulus.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/validate"
)

// Log rotation policies.
const (
	RotationDay = "day"
	RotationRun = "run"
)

// Config holds the application configuration.
type Config struct {
	Endpoint       bus.Endpoint     `yaml:"endpoint"`
	Publisher      PublisherConfig  `yaml:"publisher"`
	Subscriber     SubscriberConfig `yaml:"subscriber"`
	Log            LogConfig        `yaml:"log"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout"`
	LeaveTimeout   time.Duration    `yaml:"leave_timeout"`
	DataDir        string           `yaml:"-"` // set by caller, not from config file
}

// PublisherConfig holds publisher session settings.
type PublisherConfig struct {
	// Topic is used when a send does not name one.
	Topic string `yaml:"topic"`
}

// SubscriberConfig holds subscriber session settings.
type SubscriberConfig struct {
	Topics []string `yaml:"topics"`
}

// LogConfig controls the delivery log.
type LogConfig struct {
	// Dir overrides the default <data dir>/logs.
	Dir      string `yaml:"dir"`
	Rotation string `yaml:"rotation"` // day or run
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint: bus.Endpoint{
			URL:   "ws://127.0.0.1:8080/ws",
			Realm: "realm1",
		},
		Publisher: PublisherConfig{
			Topic: "com.ads.midshmi.topic",
		},
		Subscriber: SubscriberConfig{
			Topics: []string{"com.ads.midshmi.topic"},
		},
		Log: LogConfig{
			Rotation: RotationDay,
		},
		ConnectTimeout: 10 * time.Second,
		LeaveTimeout:   5 * time.Second,
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Endpoint.URL == "" {
		c.Endpoint.URL = defaults.Endpoint.URL
	}
	if c.Endpoint.Realm == "" {
		c.Endpoint.Realm = defaults.Endpoint.Realm
	}
	if c.Log.Rotation == "" {
		c.Log.Rotation = defaults.Log.Rotation
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.LeaveTimeout == 0 {
		c.LeaveTimeout = defaults.LeaveTimeout
	}
	c.Subscriber.Topics = validate.Dedupe(c.Subscriber.Topics)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	errs = appendEndpointErrors(errs, c.Endpoint)

	if c.Publisher.Topic != "" {
		if err := validate.Topic(c.Publisher.Topic); err != nil {
			errs = errs.Append("publisher.topic", err)
		}
	}

	for i, topic := range c.Subscriber.Topics {
		if err := validate.Topic(topic); err != nil {
			errs = errs.Append(fmt.Sprintf("subscriber.topics[%d]", i), err)
		}
	}

	if c.Log.Rotation != RotationDay && c.Log.Rotation != RotationRun {
		errs = errs.Append("log.rotation", fmt.Errorf("must be %q or %q, got %q", RotationDay, RotationRun, c.Log.Rotation))
	}

	if c.ConnectTimeout < 0 {
		errs = errs.Append("connect_timeout", fmt.Errorf("must not be negative"))
	}
	if c.LeaveTimeout < 0 {
		errs = errs.Append("leave_timeout", fmt.Errorf("must not be negative"))
	}

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}

	return errs.ToError()
}

// appendEndpointErrors flattens the endpoint's validation errors into
// endpoint.<field> entries.
func appendEndpointErrors(errs criterio.FieldErrorsBuilder, ep bus.Endpoint) criterio.FieldErrorsBuilder {
	err := ep.Validate()
	if err == nil {
		return errs
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return errs.Append("endpoint", err)
	}

	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		errs = errs.Append("endpoint."+k, verrs[k])
	}
	return errs
}

// LogDir returns the directory delivery logs are written to.
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return filepath.Join(c.DataDir, "logs")
}
