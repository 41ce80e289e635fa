// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestLogNoteStartsOwnLine(t *testing.T) {
	t.Parallel()
	log := NewLog(10)

	log.Feed("working 40%")
	log.Note("[runwatch] sent SIGTERM to process")

	want := []string{"working 40%\n", "[runwatch] sent SIGTERM to process\n"}
	if got := log.Lines(); !slices.Equal(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}

func TestLogConcurrentFeedAndSnapshot(t *testing.T) {
	t.Parallel()
	log := NewLog(50)

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for i := range 500 {
			log.Feed(fmt.Sprintf("line %d\n", i))
		}
	}()

	for range 200 {
		snapshot := log.Snapshot()
		if strings.Count(snapshot, "\n") > 50 {
			t.Fatalf("snapshot holds more than 50 lines")
		}
	}
	waitGroup.Wait()

	lines := log.Lines()
	if len(lines) != 50 || lines[49] != "line 499\n" {
		t.Errorf("final lines: len %d, last %q", len(lines), lines[len(lines)-1])
	}
}

func TestLogFeedCRLFSplitAcrossChunks(t *testing.T) {
	t.Parallel()
	log := NewLog(10)

	// A partial line, then a CRLF whose halves land in different reads.
	log.Feed("line 3")
	log.Feed("6\r")
	log.Feed("\nline 37\r\n")

	want := []string{"line 36\n", "line 37\n"}
	if got := log.Lines(); !slices.Equal(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}

func TestLogFeedTrailingCarriageReturnRedraws(t *testing.T) {
	t.Parallel()
	log := NewLog(10)

	log.Feed("10%\r")
	log.Feed("20%\r")
	log.Feed("30%\r")
	log.Feed("done\n")

	want := []string{"done\n"}
	if got := log.Lines(); !slices.Equal(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}

func TestLogFeedBlankFrameBeforeChunkBoundary(t *testing.T) {
	t.Parallel()
	log := NewLog(10)

	// The blank frame after the last "\r" is dropped, so the next read
	// continues the " 20%" frame rather than starting a new one.
	log.Feed(" 20%\r ")
	log.Feed("30%\r\n")

	want := []string{" 20%30%\n"}
	if got := log.Lines(); !slices.Equal(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}
