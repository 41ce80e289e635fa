// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Runwatch runs one command and keeps a live report of it in a Matrix
// room.
//
// The command's output is echoed to the terminal as usual and also
// captured, with progress-bar redraws collapsed, into a bounded log.
// A report message showing the command's status, elapsed time, host
// metrics, and recent output is posted to the room and edited in place
// every update interval. Room members can refresh the report, stop the
// command, list recent files in the working directory, and download
// them, using the session token shown in the report.
//
// Exit codes:
//
//	N    the command's own exit code (128+signal when it was killed)
//	126  the command could not be started
//	127  the command was not found
//	1    runwatch itself failed (bad flags, bad configuration)
package main
