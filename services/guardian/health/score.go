// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import "fmt"

// Signal weights. The exact numbers are policy, not correctness; the
// scoring function only guarantees that a worse reading on any single
// signal never raises the score.
const (
	weightCPU     = 0.25
	weightMemory  = 0.20
	weightDisk    = 0.20
	weightTemp    = 0.15
	weightNetwork = 0.10
	weightDrift   = 0.10

	// Temperature maps linearly onto a 0-100 penalty scale between
	// these bounds.
	tempFloorC   = 40.0
	tempCeilingC = 90.0

	// Network latency saturates its penalty at this many milliseconds.
	netCeilingMS = 500.0

	// Per-signal warning levels, independent of the overall score.
	warnCPUPercent    = 85.0
	warnMemoryPercent = 90.0
	warnDiskPercent   = 90.0
	warnTempC         = 80.0
	warnNetworkMS     = 250.0
)

// ComputeScore derives the 0-100 health score and per-signal warnings
// for a sample.
//
// # Description
//
// Each signal is normalized to a 0-100 penalty and combined by fixed
// weights; the score is 100 minus the weighted penalty sum, clamped to
// [0, 100]. The function is monotonically non-increasing in every
// input: holding the others fixed, a higher CPU load, memory usage,
// disk usage, temperature, network latency, or drift count can only
// lower (or leave unchanged) the result.
func ComputeScore(s Sample) (float64, []string) {
	var warnings []string

	cpuPenalty := clamp(s.CPUPercent, 0, 100)
	if s.CPUPercent >= warnCPUPercent {
		warnings = append(warnings, fmt.Sprintf("cpu load at %.0f%%", s.CPUPercent))
	}

	memPenalty := clamp(s.MemoryPercent, 0, 100)
	if s.MemoryPercent >= warnMemoryPercent {
		warnings = append(warnings, fmt.Sprintf("memory usage at %.0f%%", s.MemoryPercent))
	}

	diskPenalty := clamp(s.DiskPercent, 0, 100)
	if s.DiskPercent >= warnDiskPercent {
		warnings = append(warnings, fmt.Sprintf("disk usage at %.0f%%", s.DiskPercent))
	}

	tempPenalty := clamp((s.TemperatureC-tempFloorC)/(tempCeilingC-tempFloorC)*100, 0, 100)
	if s.TemperatureC >= warnTempC {
		warnings = append(warnings, fmt.Sprintf("temperature at %.0fC", s.TemperatureC))
	}

	netPenalty := clamp(s.NetworkLatencyMS/netCeilingMS*100, 0, 100)
	if s.NetworkLatencyMS >= warnNetworkMS {
		warnings = append(warnings, fmt.Sprintf("network latency at %.0fms", s.NetworkLatencyMS))
	}

	// Any drift at all is alarming; saturate quickly.
	driftPenalty := clamp(float64(s.DriftEvents)*25, 0, 100)
	if s.DriftEvents > 0 {
		warnings = append(warnings, fmt.Sprintf("%d protected-resource drift event(s)", s.DriftEvents))
	}

	penalty := cpuPenalty*weightCPU +
		memPenalty*weightMemory +
		diskPenalty*weightDisk +
		tempPenalty*weightTemp +
		netPenalty*weightNetwork +
		driftPenalty*weightDrift

	return clamp(100-penalty, 0, 100), warnings
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
