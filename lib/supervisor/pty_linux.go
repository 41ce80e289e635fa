// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type ptyBackend struct {
	child
	columns uint16
	rows    uint16
	master  *os.File
	stream  *chunkStream
}

func ptySupported() bool {
	_, err := os.Stat("/dev/ptmx")
	return err == nil
}

func newPTYBackend(columns, rows uint16) Backend {
	return &ptyBackend{child: newChild(), columns: columns, rows: rows}
}

func (backend *ptyBackend) Mode() string { return "pty" }

func (backend *ptyBackend) Start(command *exec.Cmd) error {
	master, slavePath, err := openPTY()
	if err != nil {
		return &ptyError{err: err}
	}
	if err := setWindowSize(master, backend.columns, backend.rows); err != nil {
		master.Close()
		return &ptyError{err: err}
	}
	slave, err := os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return &ptyError{err: fmt.Errorf("open %s: %w", slavePath, err)}
	}

	command.Stdin = slave
	command.Stdout = slave
	command.Stderr = slave
	command.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 in the child is the slave
	}

	if err := backend.start(command); err != nil {
		slave.Close()
		master.Close()
		return err
	}
	// Once the child and its descendants close the slave, reads on the
	// master fail with EIO, which ends the stream.
	slave.Close()

	backend.master = master
	backend.stream = newChunkStream(ptyReader{master}, readChunkSize)
	return nil
}

func (backend *ptyBackend) ReadChunk(buffer []byte, timeout time.Duration) (int, error) {
	return backend.stream.read(buffer, timeout)
}

func (backend *ptyBackend) Close() error {
	if backend.stream != nil {
		backend.stream.close()
	}
	if backend.master != nil {
		return backend.master.Close()
	}
	return nil
}

// ptyReader reports the master's EIO after slave hangup as io.EOF.
type ptyReader struct {
	file *os.File
}

func (reader ptyReader) Read(buffer []byte) (int, error) {
	count, err := reader.file.Read(buffer)
	if errors.Is(err, syscall.EIO) {
		return count, io.EOF
	}
	return count, err
}

// openPTY allocates a pseudo-terminal pair via /dev/ptmx and returns
// the master file and the slave device path.
func openPTY() (*os.File, string, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}

	var ptyNumber int
	var ioctlErr error
	err = control(master, func(fd int) {
		ptyNumber, ioctlErr = unix.IoctlGetInt(fd, unix.TIOCGPTN)
		if ioctlErr != nil {
			ioctlErr = fmt.Errorf("get PTY number (TIOCGPTN): %w", ioctlErr)
			return
		}
		if unlockErr := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); unlockErr != nil {
			ioctlErr = fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", unlockErr)
		}
	})
	if err == nil {
		err = ioctlErr
	}
	if err != nil {
		master.Close()
		return nil, "", err
	}
	return master, fmt.Sprintf("/dev/pts/%d", ptyNumber), nil
}

// setWindowSize sets the terminal dimensions the child sees.
func setWindowSize(master *os.File, columns, rows uint16) error {
	var ioctlErr error
	err := control(master, func(fd int) {
		ioctlErr = unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{Col: columns, Row: rows})
	})
	if err != nil {
		return err
	}
	if ioctlErr != nil {
		return fmt.Errorf("set window size (TIOCSWINSZ): %w", ioctlErr)
	}
	return nil
}

// control runs f on the file's descriptor without calling Fd, which
// would switch the descriptor to blocking mode.
func control(file *os.File, f func(fd int)) error {
	raw, err := file.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(func(fd uintptr) { f(int(fd)) })
}
