// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the runwatch build.
//
// Release builds inject [Version], [GitCommit], and [BuildTime] with
// -ldflags -X. Builds without them fall back to the VCS stamp the Go
// toolchain embeds (vcs.revision, vcs.time, vcs.modified), so a plain
// "go install" still reports the commit it was built from.
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-02-10T...)" for --version
//   - [Full] -- Info plus Go version and GOOS/GOARCH
//   - [UserAgent] -- the HTTP User-Agent sent to the homeserver
package version
