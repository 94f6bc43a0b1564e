package doctor

import (
	"context"
	"errors"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/stimulus/internal/core/config"
)

// ConfigCheck runs deep validation on the loaded configuration and
// reports its warnings.
type ConfigCheck struct {
	cfg  *config.Config
	path string
}

// NewConfigCheck creates a configuration check. cfg may be nil when
// loading failed.
func NewConfigCheck(cfg *config.Config, path string) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, path: path}
}

func (c *ConfigCheck) Name() string { return "Configuration" }

func (c *ConfigCheck) Run(_ context.Context) Result {
	res := Result{Name: c.Name()}
	if c.cfg == nil {
		res.Fail("Config loaded", "configuration not loaded")
		return res
	}

	for _, fe := range FieldErrors(c.cfg.ValidateDeep(c.path)) {
		label := fe.Field
		if label == "" {
			label = "validation"
		}
		res.Fail(label, fe.Err.Error())
	}

	for _, w := range c.cfg.Warnings() {
		label := w.Category
		if w.Item != "" {
			label = w.Item
		}
		res.Warn(label, w.Message)
	}

	if len(res.Items) == 0 {
		res.Pass("Config valid", c.cfg.Endpoint.String())
	}
	return res
}

// FieldErrors unwraps criterio field errors from err. Any other error
// becomes a single entry without a field.
func FieldErrors(err error) criterio.FieldErrors {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return criterio.FieldErrors{{Err: err}}
}
