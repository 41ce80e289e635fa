// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/runwatch/lib/action"
	"github.com/bureau-foundation/runwatch/lib/clock"
	"github.com/bureau-foundation/runwatch/lib/config"
	"github.com/bureau-foundation/runwatch/lib/report"
	"github.com/bureau-foundation/runwatch/lib/session"
	"github.com/bureau-foundation/runwatch/lib/supervisor"
	"github.com/bureau-foundation/runwatch/lib/termlog"
	"github.com/bureau-foundation/runwatch/lib/workdir"
	"github.com/bureau-foundation/runwatch/transport"
)

// StaleSessionNotice answers an action carrying another run's token.
const StaleSessionNotice = "Session expired; this control belongs to a previous run."

// finalReportTimeout bounds the closing report delivery, including any
// rate-limit waits.
const finalReportTimeout = 30 * time.Second

// Metrics supplies the report's resource line.
type Metrics interface {
	Text(ctx context.Context) string
}

// Config configures Run.
type Config struct {
	// Command is the shell command line to supervise.
	Command string
	// WorkDir defaults to the current directory.
	WorkDir   string
	Transport transport.Transport
	Settings  config.Settings

	UsePTY  bool
	Columns uint16
	Rows    uint16
	// Echo receives the child's raw output. Nil discards.
	Echo io.Writer

	// Metrics is optional.
	Metrics Metrics
	// Host names this machine in reports and captions.
	Host string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Result describes a finished run.
type Result struct {
	Status  supervisor.Status
	Token   string
	Elapsed time.Duration
}

// ExitCode is the child's exit code, or 1 when the child never reached
// a known exit status.
func (result Result) ExitCode() int {
	if result.Status.State != supervisor.Exited {
		return 1
	}
	return result.Status.ExitCode
}

// Run supervises config.Command until it exits (with ExitOnCompletion),
// an exit action arrives, or ctx is cancelled. A command that cannot
// be spawned is not an error: it shows up in the report and in the
// result's exit code. Errors are returned only for invalid setup.
func Run(ctx context.Context, config Config) (Result, error) {
	if config.Command == "" {
		return Result{}, fmt.Errorf("watch: Command is required")
	}
	if config.Transport == nil {
		return Result{}, fmt.Errorf("watch: Transport is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := config.Settings
	workDir := config.WorkDir
	if workDir == "" {
		current, err := os.Getwd()
		if err != nil {
			return Result{}, fmt.Errorf("watch: determining working directory: %w", err)
		}
		workDir = current
	}

	dir, err := workdir.Open(workDir)
	if err != nil {
		return Result{}, fmt.Errorf("watch: %w", err)
	}
	renderer, err := report.New(settings.ReportBudget)
	if err != nil {
		return Result{}, fmt.Errorf("watch: %w", err)
	}
	if settings.LogLines < 1 {
		return Result{}, fmt.Errorf("watch: log lines must be at least 1, got %d", settings.LogLines)
	}

	run := session.New(config.Command, dir.Path(), clk)
	logger = logger.With("session", run.Token)
	log := termlog.NewLog(settings.LogLines)

	process, err := supervisor.New(supervisor.Config{
		Log:     log,
		Echo:    config.Echo,
		UsePTY:  config.UsePTY,
		Columns: config.Columns,
		Rows:    config.Rows,
		Logger:  logger.With("component", "supervisor"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("watch: %w", err)
	}

	render := func(ctx context.Context, closing bool) string {
		var metrics string
		if config.Metrics != nil {
			metrics = config.Metrics.Text(ctx)
		}
		return renderer.Render(report.Input{
			Host:     config.Host,
			Process:  process.Status(),
			Command:  config.Command,
			Log:      log.Snapshot(),
			LogLines: log.Capacity(),
			Metrics:  metrics,
			Elapsed:  run.Elapsed(clk),
			Token:    run.Token,
			Closing:  closing,
		})
	}
	publisher, err := NewPublisher(PublisherConfig{
		Transport: config.Transport,
		Render:    render,
		Interval:  settings.UpdateInterval,
		Clock:     clk,
		Logger:    logger.With("component", "publisher"),
	})
	if err != nil {
		return Result{}, err
	}
	fileService, err := NewFiles(FilesConfig{
		Dir:               dir,
		Transport:         config.Transport,
		Host:              config.Host,
		Token:             run.Token,
		Limit:             settings.FilesLimit,
		CompressThreshold: settings.CompressThreshold,
		Clock:             clk,
		Logger:            logger.With("component", "files"),
	})
	if err != nil {
		return Result{}, err
	}
	dispatcher, err := action.NewDispatcher(action.Config{
		Session: run,
		Process: process,
		Files:   fileService,
		Refresh: publisher.Refresh,
		Logger:  logger.With("component", "action"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("watch: %w", err)
	}

	// The pump outlives ctx so that a cancelled run still captures the
	// child's output while it shuts down.
	pumpCtx, stopPump := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPump()
	if err := process.Start(pumpCtx, config.Command, dir.Path()); err != nil {
		logger.Error("command failed to start", "error", err)
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	files := newFileWorker(loopCtx)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		if err := publisher.Run(loopCtx); err != nil {
			logger.Warn("report publisher stopped", "error", err)
		}
	}()
	go func() {
		defer loops.Done()
		err := config.Transport.ReceiveActions(loopCtx, func(incoming transport.Action) {
			handle := func() { handleAction(loopCtx, dispatcher, config.Transport, run, incoming, logger) }
			if isFileAction(incoming.Name) {
				if !files.submit(handle) {
					logger.Warn("file action dropped, too many pending", "action", incoming.Name, "sender", incoming.Sender)
				}
				return
			}
			handle()
		})
		if err != nil {
			logger.Warn("receiving actions stopped; remote control unavailable", "error", err)
		}
	}()

	exited := process.Done()
wait:
	for {
		select {
		case <-exited:
			exited = nil
			status := process.Status()
			logger.Info("command finished", "exit_code", status.ExitCode)
			publisher.Refresh()
			if settings.ExitOnCompletion {
				break wait
			}
		case <-run.Shutdown():
			logger.Info("exit requested")
			break wait
		case <-ctx.Done():
			logger.Info("interrupted")
			break wait
		}
	}

	stopProcess(process, settings.StopTimeout, clk, logger)
	stopLoops()
	loops.Wait()
	files.wait()

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalReportTimeout)
	defer cancel()
	if err := publisher.PublishFinal(finalCtx); err != nil {
		logger.Warn("closing report not delivered", "error", err)
	}

	return Result{
		Status:  process.Status(),
		Token:   run.Token,
		Elapsed: run.Elapsed(clk),
	}, nil
}

// stopProcess asks a still-running child to terminate and waits up to
// timeout for it. The child is never killed.
func stopProcess(process *supervisor.Supervisor, timeout time.Duration, clk clock.Clock, logger *slog.Logger) {
	if process.Status().State != supervisor.Running {
		return
	}
	process.Terminate()
	select {
	case <-process.Done():
	case <-clk.After(timeout):
		logger.Warn("command still running after stop timeout", "timeout", timeout)
	}
}

// isFileAction reports whether name is a listing or upload, which can
// take long enough to stall the receive loop.
func isFileAction(name string) bool {
	switch action.Normalize(name) {
	case action.ListFiles, action.DownloadFile:
		return true
	}
	return false
}

// fileWorker runs file actions off the receive loop, one at a time and
// in arrival order, so refresh, terminate and exit are handled while an
// upload is in flight.
type fileWorker struct {
	ctx   context.Context
	queue chan func()
	done  chan struct{}
}

// fileQueueSize bounds the file actions waiting behind a running one;
// further requests are dropped.
const fileQueueSize = 8

func newFileWorker(ctx context.Context) *fileWorker {
	worker := &fileWorker{
		ctx:   ctx,
		queue: make(chan func(), fileQueueSize),
		done:  make(chan struct{}),
	}
	go worker.run()
	return worker
}

func (worker *fileWorker) run() {
	defer close(worker.done)
	for {
		select {
		case <-worker.ctx.Done():
			return
		case job := <-worker.queue:
			job()
		}
	}
}

// submit queues job, or drops it when the queue is full. It reports
// whether the job was queued.
func (worker *fileWorker) submit(job func()) bool {
	select {
	case worker.queue <- job:
		return true
	default:
		return false
	}
}

// wait blocks until the worker has stopped, which happens once its
// context is cancelled and the running job (if any) returns.
func (worker *fileWorker) wait() { <-worker.done }

func handleAction(ctx context.Context, dispatcher *action.Dispatcher, sink transport.Transport, run *session.Session, incoming transport.Action, logger *slog.Logger) {
	err := dispatcher.Dispatch(ctx, incoming.Request())
	var notice string
	switch {
	case err == nil:
		return
	case errors.Is(err, action.ErrStaleSession):
		notice = StaleSessionNotice
	case errors.Is(err, action.ErrMissingArgument):
		notice = fmt.Sprintf("Usage: !download %s <name>", run.Token)
	default:
		logger.Warn("action failed", "action", incoming.Name, "sender", incoming.Sender, "error", err)
		return
	}
	if err := sink.Notify(ctx, notice); err != nil {
		logger.Warn("posting notice failed", "error", err)
	}
}
