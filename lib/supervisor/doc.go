// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs one shell command and captures its combined
// stdout and stderr into a termlog.Log.
//
// The child is attached to a pseudo-terminal where the platform has one
// (Linux /dev/ptmx), so it line-buffers and draws progress bars as it
// would for an interactive user. Elsewhere, or with UsePTY false, it
// writes into a pipe; the captured text is the same, only delivered in
// coarser chunks.
//
// A single pump goroutine reads the output in chunks of at most
// ChunkSize bytes, waiting at most PollInterval per attempt, and feeds
// each chunk to the log in read order. Raw bytes are also copied to
// Config.Echo so the operator can watch locally. When the child exits
// the pump drains what is still buffered, then records the exit code.
//
// Lifecycle: NotStarted -> Running -> Exited. Exited is final. A
// failure to spawn goes straight to Exited with code 127 (command or
// shell missing) or 126 (any other spawn error). A child killed by a
// signal exits with 128 + the signal number, as a shell reports it.
//
// Terminate sends SIGTERM to the child's process group and writes an
// advisory line into the log. It never escalates to SIGKILL.
package supervisor
