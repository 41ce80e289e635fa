// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// GPUSource reports one display line per GPU. A nil or empty result
// means no GPU lines.
type GPUSource interface {
	Lines(ctx context.Context) []string
}

// Sampler produces the metrics text block. Safe for concurrent use;
// CPU deltas are measured between successive Text calls.
type Sampler struct {
	procRoot string
	gpu      GPUSource

	mutex    sync.Mutex
	previous *CPUReading
}

// SamplerConfig configures a Sampler. The zero value samples the host
// /proc and reports no GPUs.
type SamplerConfig struct {
	// ProcRoot overrides the /proc mount point. Tests point it at a
	// synthetic tree.
	ProcRoot string

	GPU GPUSource
}

// NewSampler creates a Sampler.
func NewSampler(config SamplerConfig) *Sampler {
	procRoot := config.ProcRoot
	if procRoot == "" {
		procRoot = defaultProcRoot
	}
	return &Sampler{procRoot: procRoot, gpu: config.GPU}
}

// Text returns the current metrics block, one line for CPU and memory
// followed by one line per GPU.
func (sampler *Sampler) Text(ctx context.Context) string {
	var lines []string
	if line, ok := sampler.hostLine(); ok {
		lines = append(lines, line)
	}
	if sampler.gpu != nil {
		lines = append(lines, sampler.gpu.Lines(ctx)...)
	}
	return strings.Join(lines, "\n")
}

func (sampler *Sampler) hostLine() (string, bool) {
	if sampler.procRoot == "" {
		return "", false
	}

	current := readCPUStatsFrom(filepath.Join(sampler.procRoot, "stat"))
	memory := readMemoryPercentFrom(filepath.Join(sampler.procRoot, "meminfo"))
	if current == nil && memory < 0 {
		return "", false
	}

	sampler.mutex.Lock()
	cpu := CPUPercent(sampler.previous, current)
	if current != nil {
		sampler.previous = current
	}
	sampler.mutex.Unlock()

	memoryText := "n/a"
	if memory >= 0 {
		memoryText = fmt.Sprintf("%.1f%%", memory)
	}
	return fmt.Sprintf("CPU: %.1f%% | RAM: %s", cpu, memoryText), true
}

// CPUPercent computes the CPU utilization percentage from two sequential
// /proc/stat readings. Returns 0 if either reading is nil, the counters
// went backwards, or no time has passed.
func CPUPercent(previous, current *CPUReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	if current.Busy < previous.Busy || current.Idle < previous.Idle {
		return 0
	}
	busyDelta := current.Busy - previous.Busy
	idleDelta := current.Idle - previous.Idle
	totalDelta := busyDelta + idleDelta
	if totalDelta == 0 {
		return 0
	}
	return float64(busyDelta) / float64(totalDelta) * 100
}
