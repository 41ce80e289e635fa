// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a small client for the Matrix client-server API.
//
// [Client] holds the homeserver URL and HTTP transport. [Session] adds
// an access token and covers what a room bot needs: sending and
// editing messages, long-poll /sync, media upload, and token
// validation with WhoAmI.
//
// All API errors are returned as [*MatrixError] carrying the Matrix
// error code, the HTTP status and, for rate limiting, the server's
// requested back-off. Request URLs are built by string concatenation
// so escaped room IDs are not re-encoded.
package messaging
