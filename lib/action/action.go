// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action validates remote control requests against the current
// session and carries them out.
//
// A request names an action and carries the session token shown in the
// report it was issued from. A request whose token does not match the
// running session was issued against an earlier run's report and is
// rejected with ErrStaleSession before anything else happens.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/runwatch/lib/session"
)

// Action names.
const (
	Refresh      = "refresh"
	Terminate    = "terminate"
	Exit         = "exit"
	ListFiles    = "list-files"
	DownloadFile = "download-file"
)

var (
	// ErrStaleSession rejects a request carrying another session's token.
	ErrStaleSession = errors.New("action: stale session")

	// ErrUnknownAction rejects a request naming no known action.
	ErrUnknownAction = errors.New("action: unknown action")

	// ErrMissingArgument rejects a download without a file name.
	ErrMissingArgument = errors.New("action: missing argument")
)

// aliases maps chat command words to action names.
var aliases = map[string]string{
	"refresh":       Refresh,
	"terminate":     Terminate,
	"kill":          Terminate,
	"exit":          Exit,
	"files":         ListFiles,
	"list-files":    ListFiles,
	"download":      DownloadFile,
	"download-file": DownloadFile,
}

// Normalize maps a command word (case-insensitive, aliases allowed) to
// its action name, or "" if it names no action.
func Normalize(word string) string {
	return aliases[strings.ToLower(word)]
}

// Request is one remote control request.
type Request struct {
	Name  string
	Token string
	Args  []string
	// Sender identifies who asked, for logs.
	Sender string
}

// Terminator is the part of the supervisor an action can touch.
type Terminator interface {
	Terminate()
}

// FileService lists and sends working-directory files.
type FileService interface {
	ListFiles(ctx context.Context) error
	SendFile(ctx context.Context, name string) error
}

// Config configures a Dispatcher.
type Config struct {
	Session *session.Session
	Process Terminator
	Files   FileService
	// Refresh asks for an immediate report. It must not block.
	Refresh func()
	Logger  *slog.Logger
}

// Dispatcher executes requests for one session.
type Dispatcher struct {
	session *session.Session
	process Terminator
	files   FileService
	refresh func()
	logger  *slog.Logger
}

// NewDispatcher validates config.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("action: Session is required")
	}
	if config.Process == nil {
		return nil, fmt.Errorf("action: Process is required")
	}
	dispatcher := &Dispatcher{
		session: config.Session,
		process: config.Process,
		files:   config.Files,
		refresh: config.Refresh,
		logger:  config.Logger,
	}
	if dispatcher.refresh == nil {
		dispatcher.refresh = func() {}
	}
	if dispatcher.logger == nil {
		dispatcher.logger = slog.Default()
	}
	return dispatcher, nil
}

// Dispatch checks the request's token and performs the action. A stale
// token or unknown action changes nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, request Request) error {
	if !d.session.Matches(request.Token) {
		d.logger.Info("rejected stale action", "action", request.Name, "sender", request.Sender)
		return ErrStaleSession
	}

	name := Normalize(request.Name)
	d.logger.Info("action", "action", name, "sender", request.Sender)

	switch name {
	case Refresh:
		d.refresh()
	case Terminate:
		d.process.Terminate()
		d.refresh()
	case Exit:
		d.session.RequestShutdown()
		d.refresh()
	case ListFiles:
		if d.files == nil {
			return fmt.Errorf("action: %s: no file service", name)
		}
		return d.files.ListFiles(ctx)
	case DownloadFile:
		if d.files == nil {
			return fmt.Errorf("action: %s: no file service", name)
		}
		if len(request.Args) == 0 || request.Args[0] == "" {
			return fmt.Errorf("%w: %s needs a file name", ErrMissingArgument, name)
		}
		return d.files.SendFile(ctx, strings.Join(request.Args, " "))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, request.Name)
	}
	return nil
}
