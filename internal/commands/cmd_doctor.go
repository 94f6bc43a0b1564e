package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/stimulus/internal/commands/doctor"
	"github.com/hay-kot/stimulus/internal/core/validate"
	"github.com/hay-kot/stimulus/internal/printer"
)

type DoctorCmd struct {
	flags   *Flags
	format  string
	offline bool
}

// NewDoctorCmd creates a new doctor command.
func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

// Register adds the doctor command to the application.
func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "doctor",
		Usage:     "Run health checks on your stimulus setup",
		UsageText: "stimulus doctor [--offline] [--format text|json]",
		Description: `Checks the configuration, joins the realm once and subscribes to the
configured topics, then parses every delivery log file.

Exits non-zero when any check fails.`,
		Flags: []cli.Flag{
			formatFlag(&cmd.format),
			&cli.BoolFlag{
				Name:        "offline",
				Usage:       "skip the router check",
				Destination: &cmd.offline,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	checks := []doctor.Check{doctor.NewConfigCheck(cfg, cmd.flags.ConfigPath)}
	if cfg != nil {
		if !cmd.offline {
			topics := validate.Dedupe(append([]string{cfg.Publisher.Topic}, cfg.Subscriber.Topics...))
			checks = append(checks, doctor.NewRouterCheck(cmd.flags.Dialer, cfg.Endpoint, topics, cfg.ConnectTimeout))
		}
		checks = append(checks, doctor.NewLogCheck(cfg.LogDir()))
	}

	return report(printer.Ctx(ctx), c.Root().Writer, cmd.format, doctor.RunAll(ctx, checks))
}

func formatFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "format",
		Usage:       "output format (text, json)",
		Value:       "text",
		Destination: dest,
	}
}

// report writes check results as text through p or as JSON to w, and
// turns any failed item into a non-zero exit.
func report(p *printer.Printer, w io.Writer, format string, results []doctor.Result) error {
	counts := doctor.Summary(results)

	if format == "json" {
		out := struct {
			Healthy bool            `json:"healthy"`
			Summary doctor.Counts   `json:"summary"`
			Checks  []doctor.Result `json:"checks"`
		}{
			Healthy: counts.Failed == 0,
			Summary: counts,
			Checks:  results,
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printResults(p, results, counts)
	}

	if counts.Failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func printResults(p *printer.Printer, results []doctor.Result, counts doctor.Counts) {
	for _, r := range results {
		p.Section(r.Name)
		for _, item := range r.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			default:
				p.FailItem(item.Label, item.Detail)
			}
		}
		p.Printf("")
	}
	p.Printf("Summary: %d passed, %d warnings, %d failed", counts.Passed, counts.Warned, counts.Failed)
}
