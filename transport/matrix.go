// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/runwatch/lib/clock"
	"github.com/bureau-foundation/runwatch/lib/netutil"
	"github.com/bureau-foundation/runwatch/messaging"
)

const (
	// syncTimeout is the /sync long-poll wait.
	syncTimeout = 30 * time.Second

	// Back-off bounds after a failed /sync.
	minSyncBackoff = 2 * time.Second
	maxSyncBackoff = 30 * time.Second
)

// MatrixConfig configures a Matrix transport.
type MatrixConfig struct {
	Session *messaging.Session
	RoomID  string

	// SenderAllowed filters who may issue actions. Nil allows everyone.
	SenderAllowed func(userID string) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Matrix is a Transport posting to one Matrix room.
type Matrix struct {
	session       *messaging.Session
	roomID        string
	senderAllowed func(string) bool
	clock         clock.Clock
	logger        *slog.Logger

	mutex sync.Mutex
	// lastContent is the HTML last delivered for each report.
	lastContent map[MessageHandle]string
}

var _ Transport = (*Matrix)(nil)

// NewMatrix creates a Matrix transport.
func NewMatrix(config MatrixConfig) (*Matrix, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("transport: Session is required")
	}
	if config.RoomID == "" {
		return nil, fmt.Errorf("transport: RoomID is required")
	}
	matrix := &Matrix{
		session:       config.Session,
		roomID:        config.RoomID,
		senderAllowed: config.SenderAllowed,
		clock:         config.Clock,
		logger:        config.Logger,
		lastContent:   make(map[MessageHandle]string),
	}
	if matrix.senderAllowed == nil {
		matrix.senderAllowed = func(string) bool { return true }
	}
	if matrix.clock == nil {
		matrix.clock = clock.Real()
	}
	if matrix.logger == nil {
		matrix.logger = slog.Default()
	}
	return matrix, nil
}

// SendReport posts a new HTML notice.
func (m *Matrix) SendReport(ctx context.Context, html string) (MessageHandle, error) {
	eventID, err := m.session.SendMessage(ctx, m.roomID, messaging.NewHTMLNotice(PlainText(html), html))
	if err != nil {
		return "", classify(err)
	}
	handle := MessageHandle(eventID)
	m.remember(handle, html)
	return handle, nil
}

// UpdateReport edits a posted report. An update identical to the last
// delivered content fails with NotModified without contacting the
// server.
func (m *Matrix) UpdateReport(ctx context.Context, handle MessageHandle, html string) error {
	m.mutex.Lock()
	last, known := m.lastContent[handle]
	m.mutex.Unlock()
	if known && last == html {
		return &DeliveryError{Kind: NotModified, Err: errors.New("report unchanged")}
	}

	edit := messaging.NewReplacement(string(handle), messaging.NewHTMLNotice(PlainText(html), html))
	if _, err := m.session.SendMessage(ctx, m.roomID, edit); err != nil {
		return classify(err)
	}
	m.remember(handle, html)
	return nil
}

func (m *Matrix) remember(handle MessageHandle, html string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lastContent[handle] = html
}

// Notify posts a plain notice.
func (m *Matrix) Notify(ctx context.Context, text string) error {
	if _, err := m.session.SendMessage(ctx, m.roomID, messaging.NewNotice(text)); err != nil {
		return classify(err)
	}
	return nil
}

// SendFile uploads the file to the media repository and posts an
// m.file message referencing it.
func (m *Matrix) SendFile(ctx context.Context, upload FileUpload) error {
	content, err := upload.Open()
	if err != nil {
		return fmt.Errorf("transport: opening %s: %w", upload.Name, err)
	}
	defer content.Close()

	contentURI, err := m.session.UploadMedia(ctx, upload.ContentType, upload.Name, upload.Size, content)
	if err != nil {
		return classify(err)
	}
	message := messaging.NewFileMessage(upload.Caption, upload.Name, contentURI, upload.ContentType, upload.Size)
	if _, err := m.session.SendMessage(ctx, m.roomID, message); err != nil {
		return classify(err)
	}
	m.logger.Info("file sent", "name", upload.Name, "size", upload.Size, "uri", contentURI)
	return nil
}

// ReceiveActions long-polls /sync and delivers command messages from
// the room. Messages sent before the call, the account's own messages,
// edits, and senders rejected by SenderAllowed are skipped. Transient
// failures are retried with back-off; a permanent failure (such as a
// revoked token) is returned.
func (m *Matrix) ReceiveActions(ctx context.Context, deliver func(Action)) error {
	ownUserID := m.session.UserID()
	if ownUserID == "" {
		userID, err := m.session.WhoAmI(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return classify(err)
		}
		ownUserID = userID
	}

	filter := messaging.RoomMessageFilter(m.roomID, 50)
	since := ""
	backoff := minSyncBackoff
	for {
		options := messaging.SyncOptions{Since: since, Filter: filter}
		if since != "" {
			options.Timeout = int(syncTimeout / time.Millisecond)
			options.SetTimeout = true
		}

		response, err := m.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			classified := classify(err)
			kind := KindOf(classified)
			if kind != Transient && kind != RateLimited {
				return classified
			}
			wait := backoff
			var delivery *DeliveryError
			if errors.As(classified, &delivery) && delivery.RetryAfter > wait {
				wait = delivery.RetryAfter
			}
			m.logger.Warn("sync failed, retrying", "error", err, "retry_in", wait)
			m.session.CloseIdleConnections()
			select {
			case <-ctx.Done():
				return nil
			case <-m.clock.After(wait):
			}
			backoff = min(backoff*2, maxSyncBackoff)
			continue
		}
		backoff = minSyncBackoff

		// The first sync only establishes the position; its timeline
		// is history from before this run.
		if since != "" {
			m.dispatchTimeline(response, ownUserID, deliver)
		}
		since = response.NextBatch
	}
}

func (m *Matrix) dispatchTimeline(response *messaging.SyncResponse, ownUserID string, deliver func(Action)) {
	room, ok := response.Rooms.Join[m.roomID]
	if !ok {
		return
	}
	for _, event := range room.Timeline.Events {
		if event.Type != "m.room.message" || event.Sender == ownUserID || event.IsEdit() {
			continue
		}
		msgtype := event.ContentString("msgtype")
		if msgtype != messaging.MsgTypeText && msgtype != messaging.MsgTypeNotice {
			continue
		}
		parsed, ok := ParseCommand(event.ContentString("body"))
		if !ok {
			continue
		}
		if !m.senderAllowed(event.Sender) {
			m.logger.Info("ignoring command from sender not in allowed_senders",
				"sender", event.Sender, "action", parsed.Name)
			continue
		}
		parsed.Sender = event.Sender
		deliver(parsed)
	}
}

// classify maps a messaging error onto a DeliveryError.
func classify(err error) error {
	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) {
		switch {
		case matrixErr.RateLimited():
			retryAfter := matrixErr.RetryAfter()
			if retryAfter <= 0 {
				retryAfter = DefaultRetryAfter
			}
			return &DeliveryError{Kind: RateLimited, RetryAfter: retryAfter, Err: err}
		case matrixErr.StatusCode >= 500:
			return &DeliveryError{Kind: Transient, Err: err}
		}
		return &DeliveryError{Kind: Other, Err: err}
	}
	if netutil.IsTransient(err) {
		return &DeliveryError{Kind: Transient, Err: err}
	}
	return &DeliveryError{Kind: Other, Err: err}
}
