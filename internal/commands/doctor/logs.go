package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hay-kot/stimulus/internal/store/jsonfile"
)

// LogCheck verifies the delivery log directory is writable and that every
// log file in it parses.
type LogCheck struct {
	dir string
}

// NewLogCheck creates a delivery log check for dir.
func NewLogCheck(dir string) *LogCheck {
	return &LogCheck{dir: dir}
}

func (c *LogCheck) Name() string {
	return "Delivery Log"
}

func (c *LogCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	info, err := os.Stat(c.dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Warn("Directory", c.dir+" does not exist yet; it is created on first write")
		return result
	case err != nil:
		result.Fail("Directory", err.Error())
		return result
	case !info.IsDir():
		result.Fail("Directory", c.dir+" is not a directory")
		return result
	}

	probe, err := os.CreateTemp(c.dir, ".doctor-*")
	if err != nil {
		result.Fail("Directory", "not writable: "+err.Error())
		return result
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	result.Pass("Directory", c.dir)

	files, err := jsonfile.LogFiles(c.dir)
	if err != nil {
		result.Fail("Log files", err.Error())
		return result
	}

	for _, path := range files {
		entries, err := jsonfile.ReadLog(path)
		if err != nil {
			result.Fail(filepath.Base(path), err.Error())
			continue
		}
		result.Pass(filepath.Base(path), fmt.Sprintf("%d entries", len(entries)))
	}

	return result
}
