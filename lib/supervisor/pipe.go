// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

type pipeBackend struct {
	child
	reader *os.File
	stream *chunkStream
}

func newPipeBackend() *pipeBackend {
	return &pipeBackend{child: newChild()}
}

func (backend *pipeBackend) Mode() string { return "pipe" }

func (backend *pipeBackend) Start(command *exec.Cmd) error {
	reader, writer, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}
	command.Stdout = writer
	command.Stderr = writer
	command.SysProcAttr = newProcessGroupAttr()

	if err := backend.start(command); err != nil {
		reader.Close()
		writer.Close()
		return err
	}
	// The child holds its own copy; ours would keep the pipe open
	// after the child exits.
	writer.Close()

	backend.reader = reader
	backend.stream = newChunkStream(reader, readChunkSize)
	return nil
}

func (backend *pipeBackend) ReadChunk(buffer []byte, timeout time.Duration) (int, error) {
	return backend.stream.read(buffer, timeout)
}

func (backend *pipeBackend) Close() error {
	if backend.stream != nil {
		backend.stream.close()
	}
	if backend.reader != nil {
		return backend.reader.Close()
	}
	return nil
}
