// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers status reports to a remote viewer and
// receives the viewer's control actions.
//
// The [Transport] interface has one production implementation,
// [Matrix], which posts reports as HTML notices in a Matrix room and
// updates them in place with m.replace edits. Actions arrive as chat
// commands ("!refresh a1b2c3d4") and are parsed by [ParseCommand].
// [Memory] is an in-process implementation for tests.
//
// Report delivery failures are returned as [*DeliveryError] so callers
// can tell a redundant update ([NotModified]) or a rate limit
// ([RateLimited], with the server's requested delay) from a network
// hiccup ([Transient]) or a real fault ([Other]).
package transport
