package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/stimulus/internal/bridge"
	"github.com/hay-kot/stimulus/internal/core/scenario"
	"github.com/hay-kot/stimulus/internal/printer"
)

// Outcome statuses as printed by run.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// RunResult is the output for a single scenario message.
type RunResult struct {
	Name   string `json:"name"`
	Topic  string `json:"topic"`
	Mode   string `json:"mode,omitempty"`
	Delay  string `json:"delay,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunOutput is the JSON output schema.
type RunOutput struct {
	Scenario string      `json:"scenario"`
	Results  []RunResult `json:"results"`
}

type RunCmd struct {
	flags    *Flags
	onDemand bool
	only     []string
	topic    string
	format   string
}

func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Publish the messages of a scenario file on schedule",
		UsageText: "stimulus run [options] <scenario.json>",
		Description: `Joins the realm and publishes every active message of a scenario,
each at the time its mode and time field give. The command returns once
every message has been sent or has failed, or on interrupt.

On-demand messages are skipped unless --on-demand is set or they are
named with --only.

Scenario schema:
  {
    "messages": [
      {
        "name": "alarm",
        "active": true,
        "mode": "Programado",
        "time": "00:00:30",
        "fields": {"level": "3", "text": "overheat"}
      }
    ]
  }

Fields:
  name   - Required. Unique message name.
  active - Optional. Defaults to true.
  mode   - Optional. Programado (countdown, default), Hora de sistema
           (wall clock) or On-demand.
  time   - Optional. HH:MM:SS, defaults to 00:00:00.
  fields - Message fields. Numeric strings publish as numbers.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "on-demand",
				Usage:       "also send on-demand messages",
				Destination: &cmd.onDemand,
			},
			&cli.StringSliceFlag{
				Name:        "only",
				Usage:       "send only the named messages (repeatable)",
				Destination: &cmd.only,
			},
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic to publish to (default: publisher.topic)",
				Destination: &cmd.topic,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one scenario file")
	}
	path := c.Args().First()

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	for _, name := range cmd.only {
		if _, ok := sc.Find(name); !ok {
			return fmt.Errorf("--only: no message named %q", name)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cmd.flags.Config
	svc := cmd.flags.Service
	if err := svc.StartPublisher(cfg.Endpoint.URL, cfg.Endpoint.Realm, cfg.Publisher.Topic); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.LeaveTimeout)
		defer cancel()
		_ = svc.Shutdown(sctx)
	}()

	if err := svc.Publisher().WaitJoined(ctx); err != nil {
		return fmt.Errorf("join %s: %w", cfg.Endpoint, err)
	}

	outcomes, runErr := svc.RunScenario(ctx, sc, bridge.RunOptions{
		Topic:    cmd.topic,
		OnDemand: cmd.onDemand,
		Only:     cmd.only,
	})

	out := RunOutput{Scenario: path, Results: toResults(outcomes)}
	if cmd.format == "json" {
		if err := writeRunJSON(c.Root().Writer, out); err != nil {
			return err
		}
	} else {
		writeRunText(printer.Ctx(ctx), out)
	}

	if runErr != nil {
		return runErr
	}
	if countByStatus(out.Results, StatusFailed) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func toResults(outcomes []scenario.Outcome) []RunResult {
	results := make([]RunResult, 0, len(outcomes))
	for _, o := range outcomes {
		r := RunResult{Name: o.Name, Topic: o.Topic, Mode: string(o.Mode)}
		switch {
		case o.Skipped:
			r.Status = StatusSkipped
		case o.Failed():
			r.Status = StatusFailed
			r.Error = o.Err.Error()
		default:
			r.Status = StatusSent
			r.Delay = o.Delay.Round(time.Millisecond).String()
		}
		results = append(results, r)
	}
	return results
}

func writeRunJSON(w io.Writer, out RunOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeRunText(p *printer.Printer, out RunOutput) {
	for _, r := range out.Results {
		label := r.Name + " " + printer.Arrow + " " + r.Topic
		switch r.Status {
		case StatusSent:
			p.CheckItem(label, fmt.Sprintf("%s after %s", r.Mode, r.Delay))
		case StatusFailed:
			p.FailItem(label, r.Error)
		default:
			p.WarnItem(label, "skipped")
		}
	}

	p.Printf("")
	p.Printf("%d sent, %d failed, %d skipped",
		countByStatus(out.Results, StatusSent),
		countByStatus(out.Results, StatusFailed),
		countByStatus(out.Results, StatusSkipped))
}

func countByStatus(results []RunResult, status string) int {
	count := 0
	for _, r := range results {
		if r.Status == status {
			count++
		}
	}
	return count
}
