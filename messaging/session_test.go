// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestSession creates a Client and Session pointing at a test server.
func newTestSession(t *testing.T, handler http.Handler) (*Client, *Session) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken("@runwatch:local", "test-token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	return client, session
}

func assertAuth(t *testing.T, request *http.Request, expectedToken string) {
	t.Helper()
	auth := request.Header.Get("Authorization")
	expected := "Bearer " + expectedToken
	if auth != expected {
		t.Errorf("unexpected auth header: got %q, want %q", auth, expected)
	}
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error for empty homeserver")
	}
	if _, err := NewClient(ClientConfig{HomeserverURL: "matrix.example.org"}); err == nil {
		t.Error("expected error for URL without scheme")
	}
	client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.example.org/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.baseURL != "https://matrix.example.org" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
	if _, err := client.SessionFromToken("@a:b", ""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestWhoAmI(t *testing.T) {
	client, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, WhoAmIResponse{UserID: "@runwatch:local", DeviceID: "DEV1"})
	}))

	session, err := client.SessionFromToken("", "test-token")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID != "@runwatch:local" || session.UserID() != "@runwatch:local" {
		t.Errorf("user ID = %q, session = %q", userID, session.UserID())
	}
}

func TestSendMessage(t *testing.T) {
	var transactionIDs []string
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		const prefix = "/_matrix/client/v3/rooms/!room:local/send/m.room.message/"
		if !strings.HasPrefix(request.URL.Path, prefix) {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		transactionIDs = append(transactionIDs, strings.TrimPrefix(request.URL.Path, prefix))

		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if content.MsgType != MsgTypeNotice || content.Format != FormatHTML {
			t.Errorf("content = %+v", content)
		}
		if content.FormattedBody != "<b>hi</b>" || content.Body != "hi" {
			t.Errorf("bodies = %q / %q", content.Body, content.FormattedBody)
		}
		writeJSON(writer, SendEventResponse{EventID: "$event1"})
	}))

	for range 2 {
		eventID, err := session.SendMessage(context.Background(), "!room:local", NewHTMLNotice("hi", "<b>hi</b>"))
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if eventID != "$event1" {
			t.Errorf("event ID = %q", eventID)
		}
	}
	if len(transactionIDs) != 2 || transactionIDs[0] == transactionIDs[1] {
		t.Errorf("transaction IDs not unique: %q", transactionIDs)
	}
	if !strings.HasPrefix(transactionIDs[0], "runwatch-") {
		t.Errorf("transaction ID %q lacks prefix", transactionIDs[0])
	}
}

func TestReplacementWireFormat(t *testing.T) {
	edit := NewReplacement("$original", NewHTMLNotice("status", "<b>status</b>"))
	data, err := json.Marshal(edit)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["body"] != "* status" || decoded["formatted_body"] != "* <b>status</b>" {
		t.Errorf("outer bodies = %v / %v", decoded["body"], decoded["formatted_body"])
	}
	relation := decoded["m.relates_to"].(map[string]any)
	if relation["rel_type"] != "m.replace" || relation["event_id"] != "$original" {
		t.Errorf("m.relates_to = %v", relation)
	}
	newContent := decoded["m.new_content"].(map[string]any)
	if newContent["body"] != "status" || newContent["formatted_body"] != "<b>status</b>" {
		t.Errorf("m.new_content = %v", newContent)
	}
	if _, nested := newContent["m.relates_to"]; nested {
		t.Error("m.new_content must not carry a relation")
	}
}

func TestRateLimitedError(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeError(writer, http.StatusTooManyRequests, map[string]any{
			"errcode":        ErrCodeLimitExceeded,
			"error":          "Too many requests",
			"retry_after_ms": 2500,
		})
	}))

	_, err := session.SendMessage(context.Background(), "!room:local", NewNotice("x"))
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("error %v is not a *MatrixError", err)
	}
	if !matrixErr.RateLimited() || matrixErr.RetryAfter() != 2500*time.Millisecond {
		t.Errorf("matrixErr = %+v", matrixErr)
	}
	if !IsMatrixError(err, ErrCodeLimitExceeded) {
		t.Error("IsMatrixError did not match M_LIMIT_EXCEEDED")
	}
}

func TestNonJSONError(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		io.WriteString(writer, "<html><body>502 Bad Gateway</body></html>")
	}))

	_, err := session.WhoAmI(context.Background())
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("error %v is not a *MatrixError", err)
	}
	if matrixErr.StatusCode != http.StatusBadGateway || matrixErr.Code != "" {
		t.Errorf("matrixErr = %+v", matrixErr)
	}
	if !strings.Contains(err.Error(), "502 Bad Gateway") {
		t.Errorf("error %q does not quote the body", err)
	}
}

func TestSync(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		query := request.URL.Query()
		if query.Get("since") != "s1" || query.Get("timeout") != "30000" {
			t.Errorf("query = %v", query)
		}
		var filter map[string]any
		if err := json.Unmarshal([]byte(query.Get("filter")), &filter); err != nil {
			t.Errorf("filter is not JSON: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		io.WriteString(writer, `{
			"next_batch": "s2",
			"rooms": {"join": {"!room:local": {"timeline": {"events": [
				{"event_id": "$1", "type": "m.room.message", "sender": "@me:local",
				 "content": {"msgtype": "m.text", "body": "!refresh abcd1234"}}
			]}}}}
		}`)
	}))

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s1",
		Timeout:    30000,
		SetTimeout: true,
		Filter:     RoomMessageFilter("!room:local", 50),
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch != "s2" {
		t.Errorf("next_batch = %q", response.NextBatch)
	}
	events := response.Rooms.Join["!room:local"].Timeline.Events
	if len(events) != 1 || events[0].ContentString("body") != "!refresh abcd1234" || events[0].Sender != "@me:local" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].IsEdit() {
		t.Error("plain message reported as edit")
	}
}

func TestUploadMedia(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.Method != http.MethodPost || request.URL.Path != "/_matrix/media/v3/upload" {
			t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
		}
		if request.URL.Query().Get("filename") != "train.log.zst" {
			t.Errorf("filename = %q", request.URL.Query().Get("filename"))
		}
		if request.Header.Get("Content-Type") != "application/zstd" || request.ContentLength != 5 {
			t.Errorf("headers: %q, length %d", request.Header.Get("Content-Type"), request.ContentLength)
		}
		body, _ := io.ReadAll(request.Body)
		if string(body) != "hello" {
			t.Errorf("body = %q", body)
		}
		writeJSON(writer, UploadResponse{ContentURI: "mxc://local/abc"})
	}))

	uri, err := session.UploadMedia(context.Background(), "application/zstd", "train.log.zst", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if uri != "mxc://local/abc" {
		t.Errorf("uri = %q", uri)
	}
}

func TestUploadMediaInvalidURI(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, UploadResponse{ContentURI: ""})
	}))
	if _, err := session.UploadMedia(context.Background(), "text/plain", "", -1, strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty content URI")
	}
}

func TestEventIsEdit(t *testing.T) {
	event := Event{Content: map[string]any{
		"body":         "* !refresh x",
		"m.relates_to": map[string]any{"rel_type": "m.replace", "event_id": "$1"},
	}}
	if !event.IsEdit() {
		t.Error("edit not detected")
	}
}
