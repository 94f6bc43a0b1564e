package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration.
// Unlike Validate, this also checks the config file and log directory on
// disk.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if !errors.As(err, &fieldErrs) {
			fieldErrs = criterio.FieldErrors{{Field: "config", Err: err}}
		}
		for _, fe := range fieldErrs {
			errs = errs.Append(fe.Field, fe.Err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if dir := c.LogDir(); dir != "" {
		if err := checkDir(dir); err != nil {
			errs = errs.Append("log.dir", err)
		}
	}

	return errs.ToError()
}

// checkDir reports a path that exists but cannot hold log files. A missing
// directory is fine; it is created on first write.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		parent := filepath.Dir(dir)
		if pinfo, perr := os.Stat(parent); perr == nil && !pinfo.IsDir() {
			return fmt.Errorf("%s is not a directory", parent)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dir)
	}
	return nil
}

// Warnings returns non-fatal issues with the configuration.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Publisher.Topic == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Publisher",
			Item:     "publisher.topic",
			Message:  "no default topic; every send must name one",
		})
	}

	if len(c.Subscriber.Topics) == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Subscriber",
			Item:     "subscriber.topics",
			Message:  "no default topics; msg sub needs --topic",
		})
	}

	if u, err := url.Parse(c.Endpoint.URL); err == nil && u.Scheme == "ws" && !isLoopback(u.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "Endpoint",
			Item:     "endpoint.url",
			Message:  "plain ws:// to a remote host is unencrypted; consider wss://",
		})
	}

	return warnings
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
