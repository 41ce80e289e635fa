// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers for the Matrix client.
//
// Response reads are bounded at MaxResponseSize so a misbehaving
// homeserver cannot exhaust memory. [IsTransient] classifies request
// failures that are worth retrying: timeouts, refused or reset
// connections, and truncated responses.
package netutil

import (
	"io"
	"strings"
)

// MaxResponseSize bounds JSON API response body reads: 256 MB.
const MaxResponseSize int64 = 256 << 20

// maxErrorBody bounds how much of a non-JSON error body is quoted in
// an error message.
const maxErrorBody = 512

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody condenses an unexpected response body for an error
// message: whitespace collapsed and cut to a few hundred bytes.
func ErrorBody(data []byte) string {
	text := strings.Join(strings.Fields(string(data)), " ")
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
