// Package jsonfile provides the JSON file-backed delivery log.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/pkg/clock"
)

// Rotation selects how log files are named.
type Rotation string

const (
	// RotateDaily writes one file per calendar day: log2026-03-10.txt.
	RotateDaily Rotation = "day"
	// RotatePerRun writes one file per process: log2026-03-10_08-15-30.txt.
	RotatePerRun Rotation = "run"
)

const (
	logPrefix    = "log"
	logExt       = ".txt"
	dayLayout    = "2006-01-02"
	runLayout    = "2006-01-02_15-04-05"
	logFileGlob  = logPrefix + "*" + logExt
	lockFileName = ".delivery.lock"
)

// DeliveryLog implements messaging.Recorder by appending pretty-printed
// JSON objects to a text file. Concurrent Record calls are serialized in
// process with a mutex and across processes with an advisory flock.
type DeliveryLog struct {
	dir      string
	rotation Rotation
	clock    clock.Clock
	log      zerolog.Logger
	runStamp string
	mu       sync.Mutex
}

// DeliveryLogOption configures a DeliveryLog.
type DeliveryLogOption func(*DeliveryLog)

// WithRotation sets the file naming policy. Default is RotateDaily.
func WithRotation(r Rotation) DeliveryLogOption {
	return func(l *DeliveryLog) { l.rotation = r }
}

// WithClock sets the clock used for timestamps and file names.
func WithClock(c clock.Clock) DeliveryLogOption {
	return func(l *DeliveryLog) { l.clock = c }
}

// WithLogger sets the diagnostic logger that receives write failures.
func WithLogger(log zerolog.Logger) DeliveryLogOption {
	return func(l *DeliveryLog) { l.log = log }
}

// NewDeliveryLog creates a delivery log writing into dir.
func NewDeliveryLog(dir string, opts ...DeliveryLogOption) *DeliveryLog {
	l := &DeliveryLog{
		dir:      dir,
		rotation: RotateDaily,
		clock:    clock.Real(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.runStamp = l.clock.Now().Format(runLayout)
	return l
}

// Path returns the file the next entry will be appended to.
func (l *DeliveryLog) Path() string {
	var stamp string
	switch l.rotation {
	case RotatePerRun:
		stamp = l.runStamp
	default:
		stamp = l.clock.Now().Format(dayLayout)
	}
	return filepath.Join(l.dir, logPrefix+stamp+logExt)
}

// Record appends e. A zero Time is stamped with the current time. Errors
// are logged and dropped so that a failing disk never blocks a send.
func (l *DeliveryLog) Record(e messaging.Entry) {
	if e.Time.IsZero() {
		e.Time = l.clock.Now()
	}

	if err := l.append(e); err != nil {
		l.log.Error().Err(err).
			Str("kind", string(e.Kind)).
			Str("topic", e.Topic).
			Msg("delivery log append failed")
	}
}

func (l *DeliveryLog) append(e messaging.Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.withFileLock(syscall.LOCK_EX, func() error {
		f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close() //nolint:errcheck
			return fmt.Errorf("write entry: %w", err)
		}

		if err := f.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		return nil
	})
}

// Entries reads back every entry of the current log file.
func (l *DeliveryLog) Entries() ([]messaging.Entry, error) {
	var entries []messaging.Entry
	err := l.withFileLock(syscall.LOCK_SH, func() error {
		var err error
		entries, err = ReadLog(l.Path())
		return err
	})
	return entries, err
}

// withFileLock executes fn while holding a lock on the directory's lock
// file, so separate publisher and subscriber processes can share a log.
func (l *DeliveryLog) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// ReadLog parses a delivery log file. A missing file has no entries.
func ReadLog(path string) ([]messaging.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log file: %w", err)
	}

	entries, err := messaging.DecodeEntries(bytes.NewReader(data))
	if err != nil {
		return entries, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// LogFiles lists the delivery log files in dir, oldest first.
func LogFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logFileGlob))
	if err != nil {
		return nil, fmt.Errorf("list log files: %w", err)
	}

	// Names embed a sortable timestamp; "log2026-03-10.txt" sorts before
	// "log2026-03-10_08-00-00.txt", which is fine for same-day files.
	sort.Slice(matches, func(i, j int) bool {
		return strings.TrimSuffix(matches[i], logExt) < strings.TrimSuffix(matches[j], logExt)
	})
	return matches, nil
}
