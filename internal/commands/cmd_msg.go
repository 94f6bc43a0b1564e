package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/stimulus/internal/bridge"
	"github.com/hay-kot/stimulus/internal/core/bus"
	"github.com/hay-kot/stimulus/internal/core/messaging"
	"github.com/hay-kot/stimulus/internal/core/payload"
	"github.com/hay-kot/stimulus/internal/core/schedule"
	"github.com/hay-kot/stimulus/internal/printer"
	"github.com/hay-kot/stimulus/internal/store/jsonfile"
	"github.com/hay-kot/stimulus/pkg/clock"
)

type MsgCmd struct {
	flags *Flags

	// pub flags
	pubTopic  string
	pubFields []string
	pubFile   string
	pubDelay  time.Duration
	pubMode   string
	pubTime   string
	pubTest   bool

	// sub flags
	subTopics []string
	subJSON   bool
	subCount  int

	// log flags
	logHeader string
	logTopic  string
	logLast   int
	logJSON   bool
}

// NewMsgCmd creates a new msg command.
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the msg command to the application.
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "msg",
		Usage: "Publish, subscribe and inspect the delivery log",
		Description: `Message commands for the configured router and realm.

Every message published and every event received is appended to the
delivery log under $XDG_DATA_HOME/stimulus/logs/ (see log.dir).`,
		Commands: []*cli.Command{
			cmd.pubCmd(),
			cmd.subCmd(),
			cmd.logCmd(),
		},
	})

	return app
}

func (cmd *MsgCmd) pubCmd() *cli.Command {
	return &cli.Command{
		Name:      "pub",
		Usage:     "Publish a message to a topic",
		UsageText: "stimulus msg pub [--topic <topic>] [--field k=v ...] [message]",
		Description: `Joins the realm, publishes one message and leaves.

The message can be provided as:
- A JSON command-line argument
- One or more --field key=value pairs; integers and floats are typed, anything else is text
- From a JSON file with -f/--file
- From stdin if nothing else is given
- The built-in test message with --test

The send can be delayed with --delay, or scheduled with --mode and --time:
  countdown  --time 00:01:30   wait 90 seconds
  wallclock  --time 14:05:00   wait until the next 14:05:00
--delay is added on top of a --mode schedule.

Examples:
  stimulus msg pub '{"name": "alarm", "fields": {"level": 3}}'
  stimulus msg pub --topic com.ads.alarms --field level=3 --field ack=false
  stimulus msg pub --test --mode countdown --time 00:00:10`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic to publish to (default: publisher.topic)",
				Destination: &cmd.pubTopic,
			},
			&cli.StringSliceFlag{
				Name:        "field",
				Aliases:     []string{"F"},
				Usage:       "message field as key=value (repeatable)",
				Destination: &cmd.pubFields,
			},
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read the JSON message from file",
				Destination: &cmd.pubFile,
			},
			&cli.DurationFlag{
				Name:        "delay",
				Aliases:     []string{"d"},
				Usage:       "wait before publishing",
				Destination: &cmd.pubDelay,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "schedule mode (immediate, countdown, wallclock)",
				Destination: &cmd.pubMode,
			},
			&cli.StringFlag{
				Name:        "time",
				Usage:       "HH:MM:SS for --mode countdown or wallclock",
				Destination: &cmd.pubTime,
			},
			&cli.BoolFlag{
				Name:        "test",
				Usage:       "publish the built-in test message",
				Destination: &cmd.pubTest,
			},
		},
		Action: cmd.runPub,
	}
}

func (cmd *MsgCmd) subCmd() *cli.Command {
	return &cli.Command{
		Name:      "sub",
		Usage:     "Print events from one or more topics",
		UsageText: "stimulus msg sub [--topic <topic> ...] [--json] [--count N]",
		Description: `Joins the realm, subscribes to every topic and prints events until
interrupted.

Output is pretty-printed on a terminal and JSON lines otherwise; --json
forces JSON lines. A topic the router rejects is reported and the other
subscriptions keep running.

Examples:
  stimulus msg sub                                # subscriber.topics from config
  stimulus msg sub -t com.ads.alarms -t com.ads.status
  stimulus msg sub --count 1 --json | jq .        # wait for a single event`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic to subscribe to (repeatable, default: subscriber.topics)",
				Destination: &cmd.subTopics,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON lines even on a terminal",
				Destination: &cmd.subJSON,
			},
			&cli.IntFlag{
				Name:        "count",
				Aliases:     []string{"n"},
				Usage:       "exit after N events (0 runs until interrupted)",
				Destination: &cmd.subCount,
			},
		},
		Action: cmd.runSub,
	}
}

func (cmd *MsgCmd) logCmd() *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "Print delivery log entries",
		UsageText: "stimulus msg log [--header stimulus|event] [--topic <glob>] [--last N] [file ...]",
		Description: `Reads delivery log files and prints their entries, oldest first.

With no file arguments every log file in the log directory is read.

Topic patterns use glob syntax:
- "com.ads.alarms": exact match
- "com.ads.*": any topic under com.ads
- "*.status": any topic ending in .status

Examples:
  stimulus msg log --header event --last 10
  stimulus msg log --topic 'com.ads.*' --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "header",
				Usage:       "only entries of this kind (stimulus, event)",
				Destination: &cmd.logHeader,
			},
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "only entries whose topic matches this glob",
				Destination: &cmd.logTopic,
			},
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "print only the last N entries",
				Destination: &cmd.logLast,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON lines",
				Destination: &cmd.logJSON,
			},
		},
		Action: cmd.runLog,
	}
}

func (cmd *MsgCmd) runPub(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)
	cfg := cmd.flags.Config

	body, err := readMessage(messageSource{
		Arg:    c.Args().First(),
		Fields: cmd.pubFields,
		File:   cmd.pubFile,
		Test:   cmd.pubTest,
		Stdin:  os.Stdin,
	})
	if err != nil {
		return err
	}

	plan, err := pubPlan(cmd.pubMode, cmd.pubTime, cmd.pubDelay)
	if err != nil {
		return err
	}

	delay, err := schedule.New(clock.Real(), log.With().Str("component", "scheduler").Logger()).Delay(plan)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := cmd.flags.Service
	if err := svc.StartPublisher(cfg.Endpoint.URL, cfg.Endpoint.Realm, cfg.Publisher.Topic); err != nil {
		return err
	}
	defer cmd.shutdown()

	if err := svc.Publisher().WaitJoined(ctx); err != nil {
		return fmt.Errorf("join %s: %w", cfg.Endpoint, err)
	}

	topic := cmd.pubTopic
	if topic == "" {
		topic = svc.DefaultTopic()
	}

	if delay > 0 {
		p.Infof("publishing to %s at %s", topic, time.Now().Add(delay).Format(time.TimeOnly))
	}

	if err := svc.Send(ctx, topic, body, delay); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.Successf("published to %s (session %d)", topic, svc.Publisher().ID())
	return nil
}

func (cmd *MsgCmd) runSub(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	topics := cmd.subTopics
	if len(topics) == 0 {
		topics = cfg.Subscriber.Topics
	}
	if len(topics) == 0 {
		return errors.New("no topics: pass --topic or set subscriber.topics")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan bus.Event, 64)
	onMessage := func(ev bus.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	sub := cmd.flags.Service.Subscriber()
	if err := cmd.flags.Service.StartSubscriber(cfg.Endpoint.URL, cfg.Endpoint.Realm, topics, onMessage); err != nil {
		return err
	}
	defer cmd.shutdown()

	if err := sub.Handle().WaitJoined(ctx); err != nil {
		return fmt.Errorf("join %s: %w", cfg.Endpoint, err)
	}

	out := newEventWriter(c.Root().Writer, cmd.subJSON)
	received := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Handle().Done():
			if err := sub.Handle().Err(); err != nil {
				return err
			}
			return nil
		case ev := <-events:
			if err := out.write(ev); err != nil {
				return err
			}
			received++
			if cmd.subCount > 0 && received >= cmd.subCount {
				return nil
			}
		}
	}
}

func (cmd *MsgCmd) runLog(ctx context.Context, c *cli.Command) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		var err error
		files, err = jsonfile.LogFiles(cmd.flags.Config.LogDir())
		if err != nil {
			return err
		}
	}

	var entries []messaging.Entry
	for _, path := range files {
		got, err := jsonfile.ReadLog(path)
		entries = append(entries, got...)
		if err != nil {
			printer.Ctx(ctx).Warnf("%v", err)
		}
	}

	filter, err := newEntryFilter(cmd.logHeader, cmd.logTopic)
	if err != nil {
		return err
	}

	entries = filter.apply(entries)
	if cmd.logLast > 0 && len(entries) > cmd.logLast {
		entries = entries[len(entries)-cmd.logLast:]
	}

	w := c.Root().Writer
	if cmd.logJSON {
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	p := printer.New(w)
	for _, e := range entries {
		p.Entry(e.Time, e.Kind.Header(), e.Topic, indentJSON(e.Message))
	}
	return nil
}

func (cmd *MsgCmd) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), cmd.flags.Config.LeaveTimeout)
	defer cancel()
	if err := cmd.flags.Service.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// messageSource lists the ways a message can be given to msg pub.
type messageSource struct {
	Arg    string
	Fields []string
	File   string
	Test   bool
	Stdin  io.Reader
}

// readMessage resolves the message body. Exactly one source may be used;
// stdin is read only when no other source is set.
func readMessage(src messageSource) (any, error) {
	set := 0
	for _, ok := range []bool{src.Arg != "", len(src.Fields) > 0, src.File != "", src.Test} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("use only one of: message argument, --field, --file, --test")
	}

	switch {
	case src.Test:
		return bridge.TestMessage(), nil
	case len(src.Fields) > 0:
		fields := make(map[string]string, len(src.Fields))
		for _, kv := range src.Fields {
			k, v, ok := payload.ParseField(kv)
			if !ok {
				return nil, fmt.Errorf("invalid field %q: want key=value", kv)
			}
			fields[k] = v
		}
		return payload.FromFields(fields), nil
	case src.Arg != "":
		return decodeMessage([]byte(src.Arg))
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read message file: %w", err)
		}
		return decodeMessage(data)
	}

	if f, ok := src.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, errors.New("no message provided (stdin is a terminal); pass a message, --field, --file or --test")
	}
	if src.Stdin == nil {
		return nil, errors.New("no message provided")
	}

	data, err := io.ReadAll(src.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return decodeMessage(data)
}

func decodeMessage(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("message is not valid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("message must be a single JSON value")
	}
	return v, nil
}

// pubPlan turns the pub scheduling flags into a Plan. An empty mode with a
// time is an error so that a forgotten --mode does not send immediately.
func pubPlan(mode, timeField string, delay time.Duration) (schedule.Plan, error) {
	if delay < 0 {
		return schedule.Plan{}, fmt.Errorf("--delay must not be negative, got %s", delay)
	}
	if mode == "" && timeField != "" {
		return schedule.Plan{}, errors.New("--time needs --mode countdown or wallclock")
	}

	m, err := schedule.ParseMode(mode)
	if err != nil {
		return schedule.Plan{}, err
	}
	return schedule.Plan{Mode: m, Time: timeField, Extra: delay}, nil
}

// entryFilter selects delivery log entries by kind and topic glob.
type entryFilter struct {
	kind    messaging.Kind
	pattern string
}

func newEntryFilter(header, pattern string) (entryFilter, error) {
	f := entryFilter{pattern: pattern}

	switch header {
	case "":
	case string(messaging.KindStimulus), string(messaging.KindEvent):
		f.kind = messaging.Kind(header)
	default:
		kind, err := messaging.KindFromHeader(header)
		if err != nil {
			return f, fmt.Errorf("--header: %w", err)
		}
		f.kind = kind
	}

	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return f, fmt.Errorf("--topic: invalid pattern %q", pattern)
	}
	return f, nil
}

func (f entryFilter) match(e messaging.Entry) bool {
	if f.kind != "" && e.Kind != f.kind {
		return false
	}
	if f.pattern == "" {
		return true
	}
	ok, _ := doublestar.Match(f.pattern, e.Topic)
	return ok
}

func (f entryFilter) apply(entries []messaging.Entry) []messaging.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// eventWriter prints events pretty on a terminal and as JSON lines
// otherwise.
type eventWriter struct {
	w      io.Writer
	pretty bool
	enc    *json.Encoder
	p      *printer.Printer
}

func newEventWriter(w io.Writer, forceJSON bool) *eventWriter {
	pretty := false
	if f, ok := w.(*os.File); ok && !forceJSON {
		pretty = term.IsTerminal(int(f.Fd()))
	}
	return &eventWriter{w: w, pretty: pretty, enc: json.NewEncoder(w), p: printer.New(w)}
}

func (ew *eventWriter) write(ev bus.Event) error {
	if !ew.pretty {
		return ew.enc.Encode(ev)
	}
	ew.p.Entry(ev.ReceivedAt, messaging.HeaderEvent, ev.Topic, indentJSON(ev.Content()))
	return nil
}
