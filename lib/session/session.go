// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session identifies one supervised run and carries its
// shutdown flag. Components receive the *Session at construction
// rather than sharing package-level state.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/runwatch/lib/clock"
)

// TokenLength is the number of hex characters in a session token.
// Eight characters are short enough to type in a chat command and make
// a collision between consecutive runs negligible.
const TokenLength = 8

// Session describes one run. Every field is fixed at creation; only the
// shutdown flag changes afterwards.
type Session struct {
	// Token is matched against the token carried by remote actions.
	Token string
	// StartedAt is when the session was created.
	StartedAt time.Time
	// WorkDir is the child's working directory.
	WorkDir string
	// Command is the shell command line being supervised.
	Command string

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a Session with a fresh random token.
func New(command, workDir string, clock clock.Clock) *Session {
	return &Session{
		Token:     NewToken(),
		StartedAt: clock.Now(),
		WorkDir:   workDir,
		Command:   command,
		shutdown:  make(chan struct{}),
	}
}

// NewToken returns TokenLength hex characters from a random UUID.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:TokenLength]
}

// Matches reports whether token belongs to this session.
func (s *Session) Matches(token string) bool {
	return token != "" && token == s.Token
}

// RequestShutdown sets the shutdown flag. Safe to call more than once
// and from any goroutine.
func (s *Session) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (s *Session) ShutdownRequested() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Shutdown returns a channel closed by RequestShutdown.
func (s *Session) Shutdown() <-chan struct{} { return s.shutdown }

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(clock clock.Clock) time.Duration {
	return clock.Now().Sub(s.StartedAt)
}
