// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import "strings"

// DefaultCapacity is the number of lines a Ring keeps when no capacity
// is configured. Fifty lines fit comfortably in one chat message.
const DefaultCapacity = 50

// Ring is a fixed-capacity FIFO of display lines. Every element except
// possibly the last ends in '\n'. The last element may be incomplete:
// it is the line the terminal cursor is currently on, and further
// output extends or replaces it in place.
//
// Ring is not safe for concurrent use; see Log.
type Ring struct {
	lines []string
	// head is the index of the oldest line within lines.
	head  int
	count int
}

// NewRing creates a Ring holding at most capacity lines. A capacity
// below 1 selects DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Capacity returns the maximum number of lines retained.
func (ring *Ring) Capacity() int { return len(ring.lines) }

// Len returns the number of lines currently retained, including an
// incomplete trailing line.
func (ring *Ring) Len() int { return ring.count }

// Incomplete reports whether the last line lacks a newline.
func (ring *Ring) Incomplete() bool {
	if ring.count == 0 {
		return false
	}
	return !strings.HasSuffix(ring.tail(), "\n")
}

// Append adds one logical line: text containing at most one '\n', and
// only as its final byte. If the current last line is incomplete, line
// continues it, exactly as a terminal keeps writing on the cursor's
// line. Otherwise line becomes a new element, evicting the oldest line
// when the ring is full. Empty input is ignored.
func (ring *Ring) Append(line string) {
	if line == "" {
		return
	}
	if ring.Incomplete() {
		ring.setTail(ring.tail() + line)
		return
	}
	ring.push(line)
}

// Write splits text on '\n' (keeping each newline with its line) and
// appends the pieces in order. The final piece, if it has no newline,
// becomes the incomplete last line.
func (ring *Ring) Write(text string) {
	for text != "" {
		index := strings.IndexByte(text, '\n')
		if index < 0 {
			ring.Append(text)
			return
		}
		ring.Append(text[:index+1])
		text = text[index+1:]
	}
}

// ReplaceIncomplete swaps the incomplete last line for line. When the
// last line is complete (or the ring is empty) line is appended
// instead.
func (ring *Ring) ReplaceIncomplete(line string) {
	ring.DropIncomplete()
	ring.Append(line)
}

// DropIncomplete removes the last line if it is incomplete.
func (ring *Ring) DropIncomplete() {
	if !ring.Incomplete() {
		return
	}
	ring.setTail("")
	ring.count--
}

// Lines returns a copy of the retained lines, oldest first.
func (ring *Ring) Lines() []string {
	result := make([]string, ring.count)
	for i := range ring.count {
		result[i] = ring.lines[(ring.head+i)%len(ring.lines)]
	}
	return result
}

// Snapshot returns the retained lines concatenated, oldest first.
func (ring *Ring) Snapshot() string {
	var builder strings.Builder
	for i := range ring.count {
		builder.WriteString(ring.lines[(ring.head+i)%len(ring.lines)])
	}
	return builder.String()
}

func (ring *Ring) push(line string) {
	capacity := len(ring.lines)
	if ring.count == capacity {
		ring.lines[ring.head] = line
		ring.head = (ring.head + 1) % capacity
		return
	}
	ring.lines[(ring.head+ring.count)%capacity] = line
	ring.count++
}

func (ring *Ring) tail() string {
	return ring.lines[(ring.head+ring.count-1)%len(ring.lines)]
}

func (ring *Ring) setTail(line string) {
	ring.lines[(ring.head+ring.count-1)%len(ring.lines)] = line
}
