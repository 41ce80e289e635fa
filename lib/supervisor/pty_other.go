// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package supervisor

func ptySupported() bool { return false }

func newPTYBackend(columns, rows uint16) Backend { return newPipeBackend() }
