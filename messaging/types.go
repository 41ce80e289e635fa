// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// Message types and formats used by runwatch.
const (
	MsgTypeNotice = "m.notice"
	MsgTypeText   = "m.text"
	MsgTypeFile   = "m.file"

	FormatHTML = "org.matrix.custom.html"

	RelTypeReplace = "m.replace"
)

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	NewContent    *MessageContent `json:"m.new_content,omitempty"`
	RelatesTo     *RelatesTo      `json:"m.relates_to,omitempty"`

	// File messages.
	URL      string    `json:"url,omitempty"`
	FileName string    `json:"filename,omitempty"`
	Info     *FileInfo `json:"info,omitempty"`
}

// RelatesTo expresses relationships between events. Edits use RelType
// "m.replace" with EventID naming the original message.
type RelatesTo struct {
	RelType string `json:"rel_type"`
	EventID string `json:"event_id"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size"`
}

// NewNotice creates a plain-text m.notice.
func NewNotice(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeNotice, Body: body}
}

// NewHTMLNotice creates an m.notice with an HTML formatted body and a
// plain-text fallback.
func NewHTMLNotice(plain, html string) MessageContent {
	return MessageContent{
		MsgType:       MsgTypeNotice,
		Body:          plain,
		Format:        FormatHTML,
		FormattedBody: html,
	}
}

// NewReplacement creates an edit of eventID whose new content is
// replacement. The outer body carries the "* " prefix clients show
// when they do not understand edits.
func NewReplacement(eventID string, replacement MessageContent) MessageContent {
	outer := replacement
	outer.Body = "* " + replacement.Body
	if outer.FormattedBody != "" {
		outer.FormattedBody = "* " + replacement.FormattedBody
	}
	outer.NewContent = &replacement
	outer.RelatesTo = &RelatesTo{RelType: RelTypeReplace, EventID: eventID}
	return outer
}

// NewFileMessage creates an m.file message for content already
// uploaded to contentURI.
func NewFileMessage(caption, filename, contentURI, mimeType string, size int64) MessageContent {
	return MessageContent{
		MsgType:  MsgTypeFile,
		Body:     caption,
		FileName: filename,
		URL:      contentURI,
		Info:     &FileInfo{MimeType: mimeType, Size: size},
	}
}

// Event is a Matrix room event as delivered by /sync.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns a string field of the event content, or "".
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// IsEdit reports whether the event replaces an earlier message.
func (e Event) IsEdit() bool {
	relation, ok := e.Content["m.relates_to"].(map[string]any)
	if !ok {
		return false
	}
	relType, _ := relation["rel_type"].(string)
	return relType == RelTypeReplace
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection holds per-room sync data keyed by room ID.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join"`
}

// JoinedRoom contains sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// SendEventResponse is returned by SendEvent.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// RoomMessageFilter returns an inline /sync filter that delivers only
// m.room.message timeline events from roomID, with presence, account
// data and state suppressed.
func RoomMessageFilter(roomID string, timelineLimit int) string {
	timeline := map[string]any{"types": []string{"m.room.message"}}
	if timelineLimit > 0 {
		timeline["limit"] = timelineLimit
	}
	top := map[string]any{
		"room": map[string]any{
			"rooms":        []string{roomID},
			"timeline":     timeline,
			"state":        map[string]any{"types": []string{}},
			"ephemeral":    map[string]any{"types": []string{}},
			"account_data": map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(top)
	return string(data)
}
