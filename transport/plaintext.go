// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"html"
	"regexp"
	"strings"
)

var (
	lineBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>(\n)?`)
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
)

// PlainText derives the plain-text fallback of a report: <br> becomes
// a line break, other tags are removed and entities are unescaped.
func PlainText(markup string) string {
	text := lineBreakPattern.ReplaceAllString(markup, "\n")
	text = tagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(html.UnescapeString(text))
}
