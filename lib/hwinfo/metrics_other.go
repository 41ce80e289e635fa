// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hwinfo

const defaultProcRoot = ""

// CPUReading is never populated off Linux.
type CPUReading struct {
	Busy uint64
	Idle uint64
}

func readCPUStatsFrom(string) *CPUReading { return nil }

func readMemoryPercentFrom(string) float64 { return -1 }
