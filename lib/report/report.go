// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report renders the status message a remote viewer sees: a
// header describing the supervised command and the most recent log
// lines in a fixed-width block, as Matrix-flavoured HTML.
//
// Rendering is a pure function of its Input. The output never exceeds
// the Renderer's byte budget; when the log does not fit, its oldest
// part is cut and replaced by TruncationMarker so the newest output
// stays visible.
package report

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bureau-foundation/runwatch/lib/supervisor"
	"github.com/bureau-foundation/runwatch/lib/termlog"
)

const (
	// DefaultBudget suits a Matrix m.room.message comfortably below the
	// 65535-byte event limit once the plain-text body and edit
	// envelope are added.
	DefaultBudget = 16000

	// MinBudget leaves room for the largest possible header plus a
	// useful amount of log.
	MinBudget = 4096

	// TruncationMarker replaces the dropped head of an oversized log.
	TruncationMarker = "\n...[truncated]...\n"

	// EmptyLog is shown before the command has printed anything.
	EmptyLog = "Starting..."

	blockOpen    = "<pre>"
	blockClose   = "</pre>"
	safetyMargin = 20

	// Header fields are clipped to these sizes in bytes after escaping.
	maxHostBytes    = 64
	maxCommandBytes = 512
	maxMetricsBytes = 1024
)

// ErrBudgetTooSmall is returned by New for budgets below MinBudget.
var ErrBudgetTooSmall = errors.New("report: budget too small")

// Input is everything one report is derived from.
type Input struct {
	Host    string
	Process supervisor.Status
	Command string
	// Log is the raw log snapshot; it is sanitized and escaped here.
	Log string
	// LogLines is the log's line capacity, shown in the log heading.
	LogLines int
	Metrics  string
	Elapsed  time.Duration
	// Token is the session token embedded in the control hints. No
	// hints are shown when it is empty.
	Token string
	// Closing marks the final report sent as runwatch shuts down.
	Closing bool
}

// Renderer renders reports within a fixed byte budget.
type Renderer struct {
	budget int
}

// New returns a Renderer for budget bytes.
func New(budget int) (*Renderer, error) {
	if budget < MinBudget {
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrBudgetTooSmall, budget, MinBudget)
	}
	return &Renderer{budget: budget}, nil
}

// Budget returns the maximum size of a rendered report in bytes.
func (renderer *Renderer) Budget() int { return renderer.budget }

// Render returns the report for input. Identical inputs give
// byte-identical output.
func (renderer *Renderer) Render(input Input) string {
	header := renderHeader(input)
	available := renderer.budget - len(header) - len(blockOpen) - len(blockClose) - safetyMargin

	body := renderLog(input.Log)
	if len(body) > available {
		body = truncateHead(body, available)
	}

	var builder strings.Builder
	builder.Grow(len(header) + len(blockOpen) + len(body) + len(blockClose))
	builder.WriteString(header)
	builder.WriteString(blockOpen)
	builder.WriteString(body)
	builder.WriteString(blockClose)
	return builder.String()
}

// StatusLabel summarizes the process state for the report header.
func StatusLabel(status supervisor.Status) string {
	switch status.State {
	case supervisor.NotStarted:
		return "Starting"
	case supervisor.Running:
		return "Running"
	}
	if status.ExitCode == 0 {
		return "Done (code=0)"
	}
	return fmt.Sprintf("Error (code=%d)", status.ExitCode)
}

// FormatElapsed formats d as H:MM:SS with a "Nd " prefix past one day.
// Fractions of a second are dropped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	days := seconds / 86400
	seconds %= 86400
	clock := fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	if days > 0 {
		return fmt.Sprintf("%dd %s", days, clock)
	}
	return clock
}

func renderHeader(input Input) string {
	host := clip(html.EscapeString(input.Host), maxHostBytes)

	var builder strings.Builder
	fmt.Fprintf(&builder, "<b>runwatch</b> on <code>%s</code>", host)
	if input.Process.PID > 0 {
		fmt.Fprintf(&builder, " (PID %d)", input.Process.PID)
	}
	builder.WriteString("<br>\n")
	fmt.Fprintf(&builder, "<b>Command:</b> <code>%s</code><br>\n",
		clip(html.EscapeString(input.Command), maxCommandBytes))
	fmt.Fprintf(&builder, "<b>Status:</b> %s<br>\n", StatusLabel(input.Process))
	fmt.Fprintf(&builder, "<b>Time:</b> %s<br>\n", FormatElapsed(input.Elapsed))

	if metrics := strings.TrimSpace(input.Metrics); metrics != "" {
		escaped := strings.ReplaceAll(html.EscapeString(metrics), "\n", "<br>\n")
		fmt.Fprintf(&builder, "<b>Stats:</b> %s<br>\n", clip(escaped, maxMetricsBytes))
	}

	if input.Closing {
		fmt.Fprintf(&builder, "<b>runwatch on %s stopped.</b><br>\n", host)
	} else if isToken(input.Token) {
		builder.WriteString("<b>Controls:</b> ")
		builder.WriteString(controls(input.Process.State, input.Token))
		builder.WriteString("<br>\n")
	}

	if input.LogLines > 0 {
		fmt.Fprintf(&builder, "<b>Recent log (last %d):</b><br>\n", input.LogLines)
	} else {
		builder.WriteString("<b>Recent log:</b><br>\n")
	}
	return builder.String()
}

func controls(state supervisor.State, token string) string {
	commands := []string{"refresh"}
	if state == supervisor.Exited {
		commands = append(commands, "exit")
	} else {
		commands = append(commands, "terminate")
	}
	commands = append(commands, "files")

	hints := make([]string, len(commands))
	for i, command := range commands {
		hints[i] = fmt.Sprintf("<code>!%s %s</code>", command, token)
	}
	return strings.Join(hints, " · ")
}

// isToken accepts only short alphanumeric tokens, which need no
// escaping and keep the header size bounded.
func isToken(token string) bool {
	if token == "" || len(token) > 32 {
		return false
	}
	for _, r := range token {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z') {
			return false
		}
	}
	return true
}

func renderLog(raw string) string {
	sanitized := termlog.Sanitize(raw)
	if strings.TrimSpace(sanitized) == "" {
		return EmptyLog
	}
	return html.EscapeString(sanitized)
}

// truncateHead keeps the longest tail of escaped that fits in limit
// bytes together with TruncationMarker. The cut never lands inside a
// UTF-8 sequence or an HTML entity.
func truncateHead(escaped string, limit int) string {
	keep := limit - len(TruncationMarker)
	if keep <= 0 {
		return TruncationMarker
	}
	start := safeStart(escaped, len(escaped)-keep)
	return TruncationMarker + escaped[start:]
}

// safeStart moves start forward to the first position that begins a
// rune and is not inside an entity such as "&amp;".
func safeStart(text string, start int) int {
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	// Entities produced by html.EscapeString are at most five bytes.
	lookBehind := max(start-5, 0)
	if ampersand := strings.LastIndexByte(text[lookBehind:start], '&'); ampersand >= 0 {
		ampersand += lookBehind
		if semicolon := strings.IndexByte(text[ampersand:], ';'); semicolon >= 0 && ampersand+semicolon >= start {
			start = ampersand + semicolon + 1
		}
	}
	return start
}

// clip shortens markup to at most limit bytes, ending with an ellipsis
// when cut. The cut never splits a rune, an entity, or a tag.
func clip(markup string, limit int) string {
	if len(markup) <= limit {
		return markup
	}
	const ellipsis = "…"
	end := limit - len(ellipsis)
	for end > 0 && !utf8.RuneStart(markup[end]) {
		end--
	}
	if ampersand := strings.LastIndexByte(markup[:end], '&'); ampersand >= 0 && !strings.Contains(markup[ampersand:end], ";") {
		end = ampersand
	}
	if bracket := strings.LastIndexByte(markup[:end], '<'); bracket >= 0 && !strings.Contains(markup[bracket:end], ">") {
		end = bracket
	}
	return markup[:end] + ellipsis
}
