package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/stimulus/internal/bridge"
	"github.com/hay-kot/stimulus/internal/commands"
	"github.com/hay-kot/stimulus/internal/core/config"
	"github.com/hay-kot/stimulus/internal/core/session"
	"github.com/hay-kot/stimulus/internal/printer"
	"github.com/hay-kot/stimulus/internal/store/jsonfile"
	"github.com/hay-kot/stimulus/internal/transport/wamp"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if err := setupLogger("info", ""); err != nil {
		panic(err)
	}

	var (
		p     = printer.New(os.Stderr)
		ctx   = printer.NewContext(context.Background(), p)
		flags = &commands.Flags{}
	)

	app := &cli.Command{
		Name:      "stimulus",
		Usage:     "Publish and subscribe on a WAMP router",
		UsageText: "stimulus [global options] command [command options]",
		Description: `Stimulus joins a WAMP realm to publish test messages and watch the
answers, keeping a delivery log of both.

Run 'stimulus msg pub' to publish one message, 'stimulus msg sub' to watch
topics, and 'stimulus run' to play a scenario file on schedule.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("STIMULUS_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("STIMULUS_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("STIMULUS_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("STIMULUS_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := setupLogger(flags.LogLevel, flags.LogFile); err != nil {
				return ctx, err
			}

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			rotation := jsonfile.RotateDaily
			if cfg.Log.Rotation == config.RotationRun {
				rotation = jsonfile.RotatePerRun
			}

			var (
				deliveries = jsonfile.NewDeliveryLog(cfg.LogDir(),
					jsonfile.WithRotation(rotation),
					jsonfile.WithLogger(log.With().Str("component", "delivery-log").Logger()),
				)
				dialer = wamp.NewDialer(wamp.WithLogger(log.With().Str("component", "wamp").Logger()))
				logger = log.With().Str("component", "stimulus").Logger()
			)

			flags.Dialer = dialer
			flags.Service = bridge.New(dialer,
				bridge.WithLogger(logger),
				bridge.WithRecorder(deliveries),
				bridge.WithNotifier(bridge.NewLoggingNotifier(logger)),
				bridge.WithSessionOptions(
					session.WithConnectTimeout(cfg.ConnectTimeout),
					session.WithLeaveTimeout(cfg.LeaveTimeout),
				),
			)
			return ctx, nil
		},
	}

	app = commands.NewMsgCmd(flags).Register(app)
	app = commands.NewRunCmd(flags).Register(app)
	app = commands.NewConfigCmd(flags).Register(app)
	app = commands.NewDoctorCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Println()
		printer.Ctx(ctx).FatalError(err)
		exitCode = 1
	}

	os.Exit(exitCode)
}

func setupLogger(level string, logFile string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    os.Getenv("NO_COLOR") != "",
		TimeFormat: time.TimeOnly,
	}
	var output io.Writer = console

	if logFile != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		// The file gets raw JSON lines, the terminal the console format.
		output = io.MultiWriter(console, file)
	}

	log.Logger = zerolog.New(output).Level(parsedLevel).With().Timestamp().Logger()

	return nil
}
