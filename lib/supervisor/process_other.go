// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

func newProcessGroupAttr() *syscall.SysProcAttr { return nil }

// signalTerminate has no graceful equivalent on this platform beyond
// an interrupt, which os.Process may refuse; the refusal is reported to
// the caller rather than escalated to a kill.
func signalTerminate(process *os.Process) error {
	return process.Signal(os.Interrupt)
}
