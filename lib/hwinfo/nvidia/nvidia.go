// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia reports NVIDIA GPU utilization and memory by querying
// nvidia-smi. When the binary is not installed the source reports
// nothing; when the query fails it reports a single "GPU Err" line.
package nvidia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// QueryTimeout bounds a single nvidia-smi invocation.
const QueryTimeout = 2 * time.Second

// ErrorLine is reported in place of GPU lines when a query fails.
const ErrorLine = "GPU Err"

var queryArguments = []string{
	"--query-gpu=index,utilization.gpu,memory.used,memory.total",
	"--format=csv,noheader,nounits",
}

// GPU is one row of the nvidia-smi query.
type GPU struct {
	Index          int
	Utilization    int
	MemoryUsedMiB  float64
	MemoryTotalMiB float64
}

// String formats the GPU as "GPU i: util% | VRAM: used/totalGB (pct%)".
func (gpu GPU) String() string {
	percent := 0.0
	if gpu.MemoryTotalMiB > 0 {
		percent = gpu.MemoryUsedMiB / gpu.MemoryTotalMiB * 100
	}
	return fmt.Sprintf("GPU %d: %d%% | VRAM: %.1f/%.1fGB (%.0f%%)",
		gpu.Index, gpu.Utilization, gpu.MemoryUsedMiB/1024, gpu.MemoryTotalMiB/1024, percent)
}

// runFunc executes the query binary and returns its stdout.
type runFunc func(ctx context.Context, binary string, arguments ...string) ([]byte, error)

// Source queries nvidia-smi.
type Source struct {
	binary string
	run    runFunc
	logger *slog.Logger
}

// NewSource locates nvidia-smi on PATH. The returned Source reports no
// lines when the binary is absent.
func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	binary, err := exec.LookPath("nvidia-smi")
	if err != nil {
		logger.Debug("nvidia-smi not found, GPU metrics disabled")
		binary = ""
	}
	return &Source{binary: binary, run: runCommand, logger: logger}
}

func runCommand(ctx context.Context, binary string, arguments ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, arguments...).Output()
}

// Available reports whether nvidia-smi was found.
func (source *Source) Available() bool { return source.binary != "" }

// Lines runs one query and formats each GPU.
func (source *Source) Lines(ctx context.Context) []string {
	if !source.Available() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	output, err := source.run(ctx, source.binary, queryArguments...)
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && len(exitError.Stderr) > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitError.Stderr)))
		}
		source.logger.Debug("nvidia-smi query failed", "error", err)
		return []string{ErrorLine}
	}
	gpus, err := Parse(output)
	if err != nil {
		source.logger.Debug("nvidia-smi output unparseable", "error", err)
		return []string{ErrorLine}
	}
	lines := make([]string, len(gpus))
	for index, gpu := range gpus {
		lines[index] = gpu.String()
	}
	return lines
}

// Parse reads nvidia-smi CSV output without header or units:
//
//	0, 87, 10444, 24576
func Parse(output []byte) ([]GPU, error) {
	var gpus []GPU
	for number, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("nvidia: line %d: expected 4 fields, got %d", number+1, len(fields))
		}
		for index := range fields {
			fields[index] = strings.TrimSpace(fields[index])
		}

		var gpu GPU
		var err error
		if gpu.Index, err = strconv.Atoi(fields[0]); err != nil {
			return nil, fmt.Errorf("nvidia: line %d: index: %w", number+1, err)
		}
		if gpu.Utilization, err = strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("nvidia: line %d: utilization: %w", number+1, err)
		}
		if gpu.MemoryUsedMiB, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("nvidia: line %d: memory.used: %w", number+1, err)
		}
		if gpu.MemoryTotalMiB, err = strconv.ParseFloat(fields[3], 64); err != nil {
			return nil, fmt.Errorf("nvidia: line %d: memory.total: %w", number+1, err)
		}
		gpus = append(gpus, gpu)
	}
	return gpus, nil
}
