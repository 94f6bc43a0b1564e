package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/stimulus/internal/commands/doctor"
	"github.com/hay-kot/stimulus/internal/printer"
)

type ConfigCmd struct {
	flags  *Flags
	format string
}

// NewConfigCmd creates the config command group.
func NewConfigCmd(flags *Flags) *ConfigCmd {
	return &ConfigCmd{flags: flags}
}

// Register adds the config commands to the application.
func (cmd *ConfigCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "stimulus config validate [--format text|json]",
				Description: "Validates the endpoint URL and realm, topics, timeouts and the log directory. Exits non-zero on errors; warnings do not fail.",
				Flags:       []cli.Flag{formatFlag(&cmd.format)},
				Action:      cmd.validate,
			},
			{
				Name:      "show",
				Usage:     "Print the effective configuration as YAML",
				UsageText: "stimulus config show",
				Action:    cmd.show,
			},
		},
	})

	return app
}

func (cmd *ConfigCmd) validate(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return errors.New("configuration not loaded")
	}

	check := doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath)
	return report(printer.Ctx(ctx), c.Root().Writer, cmd.format, []doctor.Result{check.Run(ctx)})
}

func (cmd *ConfigCmd) show(_ context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return errors.New("configuration not loaded")
	}

	enc := yaml.NewEncoder(c.Root().Writer)
	enc.SetIndent(2)
	if err := enc.Encode(cmd.flags.Config); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
