// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package termlog turns a child process's raw terminal output into a
// short, bounded history of display lines.
//
// The pipeline for one read from the child is:
//
//	bytes --Decoder--> text --Compact--> Ring
//
// Decoder converts bytes to UTF-8 permissively, carrying an incomplete
// multi-byte sequence over to the next chunk. Compact applies terminal
// carriage-return semantics: a chunk containing '\r' redraws the live
// line instead of adding history, so a progress bar occupies one slot
// no matter how many frames it prints. Ring keeps the most recent N
// lines; at most its last element is an incomplete line (no trailing
// newline), which represents the cursor's current line.
//
// Log wraps a Ring with a mutex for the producer/consumer split between
// the output pump and the report renderer. Sanitize removes ANSI escape
// sequences and is applied at render time, not on ingest, so an escape
// sequence split across two reads is still recognized.
package termlog
