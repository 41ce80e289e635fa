// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import "strings"

// Compact applies one decoded read chunk to ring with terminal
// carriage-return semantics.
//
// A chunk without '\r' is plain output and is written line by line,
// continuing the incomplete last line if there is one. The result is
// independent of where the child's output was split into chunks.
//
// A chunk with '\r' is a redraw: it is split on '\r', blank fragments
// are discarded, and only the last non-blank fragment is kept. The
// incomplete last line (the frame being overwritten) is dropped before
// the kept fragment is written. Earlier fragments are discarded even
// when they end in a newline.
//
// CRLF pairs are line endings (a PTY translates "\n" to "\r\n"), not
// redraws, and are normalized to "\n" first.
func Compact(ring *Ring, chunk string) {
	if chunk == "" {
		return
	}
	chunk = strings.ReplaceAll(chunk, "\r\n", "\n")
	if !strings.Contains(chunk, "\r") {
		ring.Write(chunk)
		return
	}

	var retained string
	for _, fragment := range strings.Split(chunk, "\r") {
		if strings.TrimSpace(fragment) != "" {
			retained = fragment
		}
	}
	if retained == "" {
		return
	}
	ring.DropIncomplete()
	ring.Write(retained)
}
