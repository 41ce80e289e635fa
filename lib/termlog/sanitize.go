// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termlog

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Sanitize removes ANSI/VT escape sequences (CSI, OSC, DCS, and
// two-byte escapes) and the remaining C0 control characters except
// newline and tab. Printable text, including text that looks like an
// escape parameter list but is not preceded by ESC, is left alone. A
// truncated escape sequence at the end of text is dropped.
func Sanitize(text string) string {
	if !needsSanitizing(text) {
		return text
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0x80 && r < 0xa0:
			// C1 controls survive ansi.Strip when they arrive as
			// encoded runes rather than raw bytes.
			return -1
		}
		return r
	}, ansi.Strip(text))
}

func needsSanitizing(text string) bool {
	for _, r := range text {
		if r < 0x20 && r != '\n' && r != '\t' {
			return true
		}
		if r == 0x7f || (r >= 0x80 && r < 0xa0) {
			return true
		}
	}
	return false
}
