// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import (
	"strings"
	"sync"
)

// Log is a Ring guarded by a mutex. Every method holds the lock only
// for the in-memory ring operation, so a reader rendering a report
// always sees the state between two whole chunks.
type Log struct {
	mutex sync.Mutex
	ring  *Ring
	// carriageReturn is set when the previous chunk ended in '\r',
	// which is held back in case the next chunk starts with '\n'.
	carriageReturn bool
}

// NewLog creates a Log retaining at most capacity lines (DefaultCapacity
// if capacity < 1).
func NewLog(capacity int) *Log {
	return &Log{ring: NewRing(capacity)}
}

// Feed compacts one decoded chunk of child output into the log.
func (log *Log) Feed(chunk string) {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	if log.carriageReturn {
		chunk = "\r" + chunk
		log.carriageReturn = false
	}
	// A trailing "\r" is held back. A chunk ending in "\r " is not: its
	// whitespace-only last frame is discarded by Compact, so the next
	// chunk extends the previous frame.
	if strings.HasSuffix(chunk, "\r") {
		chunk = chunk[:len(chunk)-1]
		log.carriageReturn = true
	}
	Compact(log.ring, chunk)
}

// Note records an advisory message from runwatch itself on its own
// line. An incomplete last line is terminated first so the note is
// not glued onto the child's partial output.
func (log *Log) Note(message string) {
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	log.mutex.Lock()
	defer log.mutex.Unlock()
	log.carriageReturn = false
	if log.ring.Incomplete() {
		log.ring.Append("\n")
	}
	log.ring.Write(message)
}

// Snapshot returns the retained lines concatenated, oldest first.
func (log *Log) Snapshot() string {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return log.ring.Snapshot()
}

// Lines returns a copy of the retained lines, oldest first.
func (log *Log) Lines() []string {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return log.ring.Lines()
}

// Capacity returns the maximum number of retained lines.
func (log *Log) Capacity() int {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return log.ring.Capacity()
}
