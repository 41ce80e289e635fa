// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves shared by
// runwatch tests. [RequireReceive] and [RequireClosed] bound a channel
// wait; [Eventually] polls a condition. Tests otherwise drive time
// through lib/clock's fake.
package testutil
