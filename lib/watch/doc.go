// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch runs one supervised command with a live remote report.
//
// [Run] wires the pieces together: it starts the command under a
// supervisor, posts a report through the transport and keeps it
// current with a [Publisher], dispatches the viewer's actions, and on
// shutdown stops the child gracefully and posts a closing report.
//
// The publisher edits the report every update interval and on demand.
// Updates whose content has not changed are skipped. A rate-limited
// delivery postpones the next attempt by the server's requested delay;
// transient failures are logged and retried at the next tick.
package watch
