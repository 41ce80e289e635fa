// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo samples host resource usage for the status report.
//
// A [Sampler] produces one short text block per call:
//
//	CPU: 12.5% | RAM: 43.0%
//	GPU 0: 87% | VRAM: 10.2/24.0GB (43%)
//
// CPU utilization is the busy share of /proc/stat jiffies between two
// successive samples, so the first sample after construction reports
// 0%. Memory is (MemTotal - MemAvailable) / MemTotal from
// /proc/meminfo. GPU lines come from the hwinfo/nvidia subpackage.
//
// On hosts without /proc only GPU lines are reported. Sampling never
// fails: unreadable sources are omitted and a GPU query failure is
// reported inline as "GPU Err".
package hwinfo
