// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bureau-foundation/runwatch/lib/termlog"
)

const (
	// readChunkSize bounds a single read from the child's output.
	readChunkSize = 4096

	// DefaultPollInterval bounds each wait for output, and therefore
	// how quickly the pump notices the child has exited.
	DefaultPollInterval = 50 * time.Millisecond

	// maxDrainChunks bounds the post-exit drain so a descendant that
	// keeps the terminal open and writing cannot hold the pump forever.
	maxDrainChunks = 256

	// Default window size when the operator's terminal size is unknown.
	DefaultColumns = 120
	DefaultRows    = 40
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("supervisor: already started")

// State is the lifecycle position of the supervised process.
type State int

const (
	NotStarted State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a snapshot of the supervised process.
type Status struct {
	State State
	// ExitCode is meaningful only when State is Exited.
	ExitCode int
	PID      int
	// Mode is "pty" or "pipe" once started.
	Mode string
}

// Config configures a Supervisor.
type Config struct {
	// Log receives the compacted output. Required.
	Log *termlog.Log

	// Echo receives a raw copy of every output chunk. Nil discards.
	Echo io.Writer

	// UsePTY selects the pseudo-terminal backend where available.
	UsePTY bool

	// Columns and Rows set the pseudo-terminal window size. Zero
	// selects DefaultColumns x DefaultRows.
	Columns uint16
	Rows    uint16

	// Env is appended to the inherited environment.
	Env []string

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Supervisor runs and watches one command.
type Supervisor struct {
	log          *termlog.Log
	echo         io.Writer
	usePTY       bool
	columns      uint16
	rows         uint16
	env          []string
	pollInterval time.Duration
	logger       *slog.Logger

	mutex    sync.Mutex
	state    State
	exitCode int
	backend  Backend

	done chan struct{}
}

// New validates config and returns an idle Supervisor.
func New(config Config) (*Supervisor, error) {
	if config.Log == nil {
		return nil, fmt.Errorf("supervisor: Log is required")
	}
	supervisor := &Supervisor{
		log:          config.Log,
		echo:         config.Echo,
		usePTY:       config.UsePTY,
		columns:      config.Columns,
		rows:         config.Rows,
		env:          config.Env,
		pollInterval: config.PollInterval,
		logger:       config.Logger,
		done:         make(chan struct{}),
	}
	if supervisor.echo == nil {
		supervisor.echo = io.Discard
	}
	if supervisor.columns == 0 || supervisor.rows == 0 {
		supervisor.columns, supervisor.rows = DefaultColumns, DefaultRows
	}
	if supervisor.pollInterval <= 0 {
		supervisor.pollInterval = DefaultPollInterval
	}
	if supervisor.logger == nil {
		supervisor.logger = slog.Default()
	}
	return supervisor, nil
}

// Start spawns command through the platform shell in workDir and
// begins pumping its output. Cancelling ctx stops the pump (the child
// is left alone; call Terminate first for a graceful stop).
//
// If the command cannot be spawned, Start records an advisory line,
// moves straight to Exited (126 or 127), closes Done, and returns the
// spawn error.
func (s *Supervisor) Start(ctx context.Context, command, workDir string) error {
	s.mutex.Lock()
	if s.state != NotStarted {
		s.mutex.Unlock()
		return ErrAlreadyStarted
	}
	s.state = Running
	s.mutex.Unlock()

	backend := newBackend(s.usePTY, s.columns, s.rows)
	err := backend.Start(s.buildCommand(command, workDir, backend.Mode()))
	var allocationErr *ptyError
	if errors.As(err, &allocationErr) {
		s.logger.Warn("pseudo-terminal unavailable, capturing through a pipe", "error", err)
		backend = newPipeBackend()
		err = backend.Start(s.buildCommand(command, workDir, backend.Mode()))
	}
	if err != nil {
		code := spawnExitCode(err)
		s.log.Note(fmt.Sprintf("[runwatch] failed to start: %v", err))
		s.mutex.Lock()
		s.state = Exited
		s.exitCode = code
		s.mutex.Unlock()
		close(s.done)
		return fmt.Errorf("supervisor: starting %q: %w", command, err)
	}

	s.mutex.Lock()
	s.backend = backend
	s.mutex.Unlock()

	s.logger.Info("process started",
		"pid", backend.PID(),
		"mode", backend.Mode(),
		"command", command,
		"work_dir", workDir,
	)
	go s.pump(ctx, backend)
	return nil
}

func (s *Supervisor) buildCommand(command, workDir, mode string) *exec.Cmd {
	cmd := shellCommand(command)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if mode == "pty" && os.Getenv("TERM") == "" {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}
	cmd.Env = append(cmd.Env, s.env...)
	return cmd
}

// Status returns a consistent snapshot of the process state.
func (s *Supervisor) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	status := Status{State: s.state, ExitCode: s.exitCode}
	if s.backend != nil {
		status.PID = s.backend.PID()
		status.Mode = s.backend.Mode()
	}
	return status
}

// Done is closed when the pump has stopped: after the child exited and
// its output was drained, or after Start's context was cancelled.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Wait blocks until Done or ctx is cancelled and returns the status at
// that point.
func (s *Supervisor) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// Terminate sends SIGTERM to a running child and records the attempt
// in the log. It does nothing unless the child is running.
func (s *Supervisor) Terminate() {
	s.mutex.Lock()
	backend := s.backend
	running := s.state == Running
	s.mutex.Unlock()
	if !running || backend == nil || !backend.Alive() {
		return
	}

	err := backend.Terminate()
	if errors.Is(err, os.ErrProcessDone) {
		// Reaped after the Alive check; nothing was signalled.
		return
	}
	if err != nil {
		s.logger.Warn("signalling process failed", "pid", backend.PID(), "error", err)
		s.log.Note(fmt.Sprintf("[runwatch] failed to signal process: %v", err))
		return
	}
	s.logger.Info("sent SIGTERM", "pid", backend.PID())
	s.log.Note("[runwatch] sent SIGTERM to process")
}

func (s *Supervisor) pump(ctx context.Context, backend Backend) {
	defer close(s.done)
	defer backend.Close()

	buffer := make([]byte, readChunkSize)
	decoder := termlog.NewDecoder()

	for {
		count, err := backend.ReadChunk(buffer, s.pollInterval)
		if count > 0 {
			s.consume(decoder, buffer[:count])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Retried on the next cycle; the liveness check below ends
			// the loop if the child is gone.
			s.logger.Debug("reading process output", "error", err)
		}

		select {
		case <-backend.Exited():
			s.drain(backend, decoder, buffer)
			s.finish(backend, decoder)
			return
		case <-ctx.Done():
			s.logger.Warn("output pump cancelled while process still running", "pid", backend.PID())
			return
		default:
		}
	}

	// End of stream: the exit status follows shortly.
	select {
	case <-backend.Exited():
		s.finish(backend, decoder)
	case <-ctx.Done():
		s.logger.Warn("output closed but process still running at shutdown", "pid", backend.PID())
	}
}

// drain reads whatever the child left buffered, stopping at the first
// empty poll.
func (s *Supervisor) drain(backend Backend, decoder *termlog.Decoder, buffer []byte) {
	for range maxDrainChunks {
		count, err := backend.ReadChunk(buffer, s.pollInterval)
		if count > 0 {
			s.consume(decoder, buffer[:count])
		}
		if count == 0 || err != nil {
			return
		}
	}
}

func (s *Supervisor) consume(decoder *termlog.Decoder, chunk []byte) {
	if _, err := s.echo.Write(chunk); err != nil {
		s.logger.Debug("echoing process output", "error", err)
	}
	s.log.Feed(decoder.Decode(chunk))
}

func (s *Supervisor) finish(backend Backend, decoder *termlog.Decoder) {
	if tail := decoder.Flush(); tail != "" {
		s.log.Feed(tail)
	}
	code := backend.ExitCode()

	s.mutex.Lock()
	s.state = Exited
	s.exitCode = code
	s.mutex.Unlock()

	s.logger.Info("process exited", "pid", backend.PID(), "exit_code", code)
}

// ptyError marks a failure to allocate the pseudo-terminal, as opposed
// to a failure to start the command.
type ptyError struct {
	err error
}

func (e *ptyError) Error() string { return "pseudo-terminal: " + e.err.Error() }

func (e *ptyError) Unwrap() error { return e.err }

// spawnExitCode follows the shell convention: 127 when the program
// could not be found, 126 when it was found but could not be run.
func spawnExitCode(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return 127
	}
	return 126
}
