// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bureau-foundation/runwatch/lib/action"
)

// DefaultRetryAfter is used when a rate-limited response does not say
// how long to wait.
const DefaultRetryAfter = 5 * time.Second

// MessageHandle identifies a posted report so it can be updated.
type MessageHandle string

// Action is a control request received from the viewer.
type Action struct {
	// Name is the normalized action name (see package action).
	Name  string
	Token string
	Args  []string
	// Sender identifies who asked.
	Sender string
}

// Request converts the action for the dispatcher.
func (a Action) Request() action.Request {
	return action.Request{Name: a.Name, Token: a.Token, Args: a.Args, Sender: a.Sender}
}

// FileUpload is a file to send to the viewer.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	// Caption accompanies the file.
	Caption string
	// Open returns the content. It is called once per send.
	Open func() (io.ReadCloser, error)
}

// Transport is a connection to the remote viewer.
type Transport interface {
	// SendReport posts a new report and returns its handle.
	SendReport(ctx context.Context, html string) (MessageHandle, error)

	// UpdateReport replaces the content of a posted report.
	UpdateReport(ctx context.Context, handle MessageHandle, html string) error

	// ReceiveActions calls deliver for each action until ctx is done
	// (returning nil) or the connection fails permanently.
	ReceiveActions(ctx context.Context, deliver func(Action)) error

	// Notify posts a short plain-text notice.
	Notify(ctx context.Context, text string) error

	// SendFile uploads a file.
	SendFile(ctx context.Context, upload FileUpload) error
}

// DeliveryKind classifies a delivery failure.
type DeliveryKind int

const (
	// Other is any failure not covered below.
	Other DeliveryKind = iota
	// NotModified means the update would not change the report.
	NotModified
	// RateLimited means the server asked the client to wait.
	RateLimited
	// Transient means a network or server hiccup; the next attempt may
	// succeed.
	Transient
)

func (kind DeliveryKind) String() string {
	switch kind {
	case NotModified:
		return "not-modified"
	case RateLimited:
		return "rate-limited"
	case Transient:
		return "transient"
	default:
		return "other"
	}
}

// DeliveryError is a classified delivery failure.
type DeliveryError struct {
	Kind DeliveryKind
	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Kind == RateLimited {
		return fmt.Sprintf("transport: %s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf returns the delivery kind of err, or Other when err is not a
// *DeliveryError.
func KindOf(err error) DeliveryKind {
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return delivery.Kind
	}
	return Other
}

// ParseCommand parses a chat command of the form
//
//	!<action> <token> [args...]
//
// The action word is matched case-insensitively and may be an alias
// ("!kill", "!files", "!download"). ok is false for text that is not a
// runwatch command. A missing token yields an Action with an empty
// Token, which the dispatcher rejects as stale.
func ParseCommand(text string) (Action, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Action{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Action{}, false
	}
	name := action.Normalize(fields[0])
	if name == "" {
		return Action{}, false
	}
	parsed := Action{Name: name}
	if len(fields) > 1 {
		parsed.Token = fields[1]
	}
	if len(fields) > 2 {
		parsed.Args = fields[2:]
	}
	return parsed, true
}
