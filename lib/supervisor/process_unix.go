// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", command)
}

// newProcessGroupAttr puts the child in its own session so the whole
// pipeline it starts can be signalled at once.
func newProcessGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// signalTerminate sends SIGTERM to the child's process group, falling
// back to the child alone if the group is already gone.
func signalTerminate(process *os.Process) error {
	err := unix.Kill(-process.Pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return process.Signal(syscall.SIGTERM)
	}
	return err
}
