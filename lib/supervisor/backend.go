// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Backend is one way of attaching to the child's output. The pty and
// pipe variants differ only in how Start wires the child's stdio; the
// process bookkeeping is shared through the embedded child.
type Backend interface {
	// Mode names the backend ("pty" or "pipe") for logs and reports.
	Mode() string

	// Start wires command's stdio and starts it.
	Start(command *exec.Cmd) error

	// ReadChunk copies the next available output into buffer, waiting
	// at most timeout. It returns 0, nil when nothing arrived in time
	// and io.EOF once the output stream has ended.
	ReadChunk(buffer []byte, timeout time.Duration) (int, error)

	// Alive reports whether the child has not yet been reaped.
	Alive() bool

	// Exited is closed once the child has been reaped.
	Exited() <-chan struct{}

	// ExitCode is valid after Exited is closed.
	ExitCode() int

	// PID of the started child, 0 before Start.
	PID() int

	// Terminate sends the graceful termination signal. It returns
	// os.ErrProcessDone when the child was reaped before the signal
	// could be delivered.
	Terminate() error

	// Close releases the output stream. The child is not signalled.
	Close() error
}

// newBackend picks the pty backend when requested and available.
func newBackend(usePTY bool, columns, rows uint16) Backend {
	if usePTY && ptySupported() {
		return newPTYBackend(columns, rows)
	}
	return newPipeBackend()
}

// child holds the process side of a Backend.
type child struct {
	command  *exec.Cmd
	exited   chan struct{}
	exitCode int
}

func newChild() child {
	return child{exited: make(chan struct{})}
}

func (c *child) start(command *exec.Cmd) error {
	if err := command.Start(); err != nil {
		return err
	}
	c.command = command
	go c.wait()
	return nil
}

func (c *child) wait() {
	err := c.command.Wait()
	c.exitCode = exitCode(c.command.ProcessState, err)
	close(c.exited)
}

func (c *child) Alive() bool {
	if c.command == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

func (c *child) Exited() <-chan struct{} { return c.exited }

func (c *child) ExitCode() int { return c.exitCode }

func (c *child) PID() int {
	if c.command == nil || c.command.Process == nil {
		return 0
	}
	return c.command.Process.Pid
}

func (c *child) Terminate() error {
	if !c.Alive() {
		return os.ErrProcessDone
	}
	return signalTerminate(c.command.Process)
}

// exitCode maps a finished process to a shell-style exit status.
func exitCode(state *os.ProcessState, waitErr error) int {
	if state == nil {
		if waitErr != nil {
			return 1
		}
		return 0
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// chunkStream turns a blocking reader into timed chunk reads. A single
// goroutine performs the blocking Read calls and hands each chunk over
// unbuffered, so unread output waits in the kernel buffer rather than
// in memory here.
type chunkStream struct {
	chunks    chan []byte
	failure   error
	closeOnce sync.Once
	closed    chan struct{}
	// leftover holds bytes of the last chunk that did not fit the
	// caller's buffer.
	leftover []byte
}

func newChunkStream(source io.Reader, chunkSize int) *chunkStream {
	stream := &chunkStream{
		chunks: make(chan []byte),
		closed: make(chan struct{}),
	}
	go stream.run(source, chunkSize)
	return stream
}

func (stream *chunkStream) run(source io.Reader, chunkSize int) {
	defer close(stream.chunks)
	for {
		buffer := make([]byte, chunkSize)
		count, err := source.Read(buffer)
		if count > 0 {
			select {
			case stream.chunks <- buffer[:count]:
			case <-stream.closed:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				stream.failure = err
			}
			return
		}
	}
}

func (stream *chunkStream) read(buffer []byte, timeout time.Duration) (int, error) {
	if len(stream.leftover) > 0 {
		count := copy(buffer, stream.leftover)
		stream.leftover = stream.leftover[count:]
		return count, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk, ok := <-stream.chunks:
		if !ok {
			// run has returned; failure is visible after the close.
			if stream.failure != nil {
				return 0, stream.failure
			}
			return 0, io.EOF
		}
		count := copy(buffer, chunk)
		stream.leftover = chunk[count:]
		return count, nil
	case <-timer.C:
		return 0, nil
	}
}

func (stream *chunkStream) close() {
	stream.closeOnce.Do(func() { close(stream.closed) })
}
