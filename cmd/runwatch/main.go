// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/runwatch/lib/config"
	"github.com/bureau-foundation/runwatch/lib/hwinfo"
	"github.com/bureau-foundation/runwatch/lib/hwinfo/nvidia"
	"github.com/bureau-foundation/runwatch/lib/version"
	"github.com/bureau-foundation/runwatch/lib/watch"
	"github.com/bureau-foundation/runwatch/messaging"
	"github.com/bureau-foundation/runwatch/transport"
)

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries the supervised command's exit code out of run
// without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func (e *exitError) ExitCode() int { return e.code }

// options holds the parsed command line.
type options struct {
	configPath       string
	homeserver       string
	token            string
	room             string
	interval         time.Duration
	lines            int
	workDir          string
	exitOnCompletion bool
	noPTY            bool
	testConnection   bool
	logLevel         string
	showVersion      bool

	// changed records which flags were given explicitly; only those
	// override the configuration file.
	changed map[string]bool

	command []string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("runwatch", pflag.ContinueOnError)
	// Everything after the first positional argument belongs to the
	// command, so "runwatch make -j8" needs no "--".
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (default: $"+config.ConfigPathEnv+")")
	flagSet.StringVar(&opts.homeserver, "homeserver", "", "Matrix homeserver URL")
	flagSet.StringVar(&opts.token, "token", "", "Matrix access token")
	flagSet.StringVar(&opts.room, "room", "", "Matrix room ID")
	flagSet.DurationVar(&opts.interval, "interval", 0, "report refresh interval (default 5s)")
	flagSet.IntVar(&opts.lines, "lines", 0, "log lines retained in the report (default 50)")
	flagSet.StringVar(&opts.workDir, "workdir", "", "working directory for the command (default: current directory)")
	flagSet.BoolVar(&opts.exitOnCompletion, "exit-on-completion", false, "exit as soon as the command finishes")
	flagSet.BoolVar(&opts.noPTY, "no-pty", false, "capture output through a pipe instead of a pseudo-terminal")
	flagSet.BoolVar(&opts.testConnection, "test", false, "send a connection test message and exit")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

// parseArgs parses args (without the program name). It returns
// pflag.ErrHelp when help was requested.
func parseArgs(args []string) (options, error) {
	var opts options
	flagSet := newFlagSet(&opts)
	// run reports parse errors itself.
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		return options{}, pflag.ErrHelp
	}

	opts.changed = make(map[string]bool)
	flagSet.Visit(func(flag *pflag.Flag) { opts.changed[flag.Name] = true })
	opts.command = flagSet.Args()

	if opts.showVersion {
		return opts, nil
	}
	if opts.changed["workdir"] && opts.workDir == "" {
		return options{}, fmt.Errorf("--workdir requires a non-empty path")
	}
	if opts.changed["lines"] && opts.lines < 1 {
		return options{}, fmt.Errorf("--lines must be at least 1, got %d", opts.lines)
	}
	if len(opts.command) == 0 && !opts.testConnection {
		return options{}, fmt.Errorf("no command given (usage: runwatch [flags] [--] <command...>)")
	}
	return opts, nil
}

// applyFlags lays explicitly given flags over cfg.
func applyFlags(cfg *config.Config, opts options) {
	if opts.changed["homeserver"] {
		cfg.Matrix.Homeserver = opts.homeserver
	}
	if opts.changed["token"] {
		cfg.Matrix.AccessToken = opts.token
	}
	if opts.changed["room"] {
		cfg.Matrix.Room = opts.room
	}
	if opts.changed["interval"] {
		cfg.Settings.UpdateInterval = opts.interval
	}
	if opts.changed["lines"] {
		cfg.Settings.LogLines = opts.lines
	}
	if opts.changed["workdir"] {
		cfg.WorkDir = opts.workDir
	}
	if opts.changed["exit-on-completion"] {
		cfg.Settings.ExitOnCompletion = opts.exitOnCompletion
	}
}

// loadConfig resolves the configuration with flags taking precedence
// over the file, the file over the environment, and the environment
// over defaults.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr: text for a terminal, JSON otherwise.
func newLogger(level string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: want debug, info, warn, or error", level)
	}
	var handler slog.Handler
	handlerOptions := &slog.HandlerOptions{Level: parsed}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOptions)
	}
	return slog.New(handler), nil
}

// terminalSize returns the operator's terminal size, or zeros (the
// supervisor's default) when stdout is not a terminal.
func terminalSize() (columns, rows uint16) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 0, 0
	}
	return uint16(min(width, math.MaxUint16)), uint16(min(height, math.MaxUint16))
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown-host"
	}
	return host
}

func newTransport(cfg *config.Config, logger *slog.Logger) (*transport.Matrix, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		Logger:        logger.With("component", "messaging"),
	})
	if err != nil {
		return nil, err
	}
	session, err := client.SessionFromToken(cfg.Matrix.UserID, cfg.Matrix.AccessToken)
	if err != nil {
		return nil, err
	}
	return transport.NewMatrix(transport.MatrixConfig{
		Session:       session,
		RoomID:        cfg.Matrix.Room,
		SenderAllowed: cfg.Matrix.SenderAllowed,
		Logger:        logger.With("component", "transport"),
	})
}

// testConnection posts one notice and reports the outcome.
func testConnection(ctx context.Context, sink transport.Transport, host string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sink.Notify(ctx, "runwatch connection test from "+host); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Connection test message sent.")
	return nil
}

func run() error {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		printHelp()
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println(version.Full())
		return nil
	}

	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	host := hostname()
	if opts.testConnection {
		return testConnection(ctx, sink, host)
	}

	command := strings.Join(opts.command, " ")
	columns, rows := terminalSize()
	metrics := hwinfo.NewSampler(hwinfo.SamplerConfig{
		GPU: nvidia.NewSource(logger.With("component", "nvidia")),
	})

	result, err := watch.Run(ctx, watch.Config{
		Command:   command,
		WorkDir:   cfg.WorkDir,
		Transport: sink,
		Settings:  cfg.Settings,
		UsePTY:    !opts.noPTY,
		Columns:   columns,
		Rows:      rows,
		Echo:      os.Stdout,
		Metrics:   metrics,
		Host:      host,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("runwatch finished",
		"exit_code", result.ExitCode(),
		"elapsed", result.Elapsed.Round(time.Second),
	)
	if code := result.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func printHelp() {
	var opts options
	flagSet := newFlagSet(&opts)
	fmt.Fprintf(os.Stderr, `runwatch runs a command and keeps a live report of it in a Matrix room.

Usage:
  runwatch [flags] [--] <command...>

The command words are joined with spaces and run by the shell.

Examples:
  # Watch a training run, configuration from $RUNWATCH_CONFIG
  runwatch python train.py --epochs 20

  # Explicit room and a faster refresh
  runwatch --room '!abc:example.org' --interval 2s -- make -j8

  # Check that the homeserver, token, and room work
  runwatch --test

Room commands (the token is shown in the report):
  !refresh <token>           update the report now
  !terminate <token>         stop the command (alias !kill)
  !exit <token>              stop runwatch
  !files <token>             list recent files in the working directory
  !download <token> <name>   upload a file from the working directory

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
