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

import (
	"bufio"
	"context"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Sample is one set of system health readings taken at a point in time.
//
// # Description
//
// Raw signals are collected by a Sampler; the Score and Warnings fields
// are filled in by the Monitor after scoring. Samples live in the
// Monitor's in-memory history ring and are not persisted individually.
type Sample struct {
	// Timestamp is when the readings were taken.
	Timestamp time.Time `json:"timestamp"`

	// CPUPercent is the 1-minute load average normalized to the logical
	// processor count, expressed as a 0-100+ percentage.
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryPercent is the fraction of physical memory in use.
	MemoryPercent float64 `json:"memory_percent"`

	// DiskPercent is the fraction of the root filesystem in use.
	DiskPercent float64 `json:"disk_percent"`

	// TemperatureC is the hottest thermal zone reading in Celsius.
	// Zero when no thermal sensor is readable.
	TemperatureC float64 `json:"temperature_c"`

	// NetworkLatencyMS is the TCP connect time to the configured probe
	// endpoint in milliseconds. Zero when no probe is configured or the
	// probe could not connect.
	NetworkLatencyMS float64 `json:"network_latency_ms"`

	// DriftEvents is the cumulative count of protected-resource drift
	// events observed since process start.
	DriftEvents int64 `json:"drift_events"`

	// Score is the derived 0-100 health score (100 = healthy).
	Score float64 `json:"score"`

	// Warnings describe individual signals that crossed their own
	// per-signal alarm levels.
	Warnings []string `json:"warnings,omitempty"`
}

// Sampler collects raw health readings.
//
// Implementations fill the signal fields only; scoring is the Monitor's
// job. A reading that cannot be collected is left at its zero value
// rather than failing the whole sample.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// DriftCounter reports the number of protected-resource drift events
// seen so far. Satisfied by protected.Watcher.
type DriftCounter interface {
	DriftCount() int64
}

// ProcSampler reads health signals from /proc, /sys, and statfs.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state.
type ProcSampler struct {
	// RootPath is the filesystem whose usage feeds DiskPercent.
	// Defaults to "/".
	RootPath string

	// Drift, when non-nil, supplies the protected-resource drift count.
	Drift DriftCounter

	// ProbeAddr is the TCP endpoint dialed to measure network latency.
	// Empty disables the probe.
	ProbeAddr string
}

// Sample collects current readings. Individual unreadable signals
// contribute zero values; the method itself only fails on context
// cancellation.
func (p *ProcSampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	s := Sample{Timestamp: time.Now().UTC()}
	s.CPUPercent = readLoadPercent()
	s.MemoryPercent = readMemoryPercent()
	s.DiskPercent = readDiskPercent(p.rootPath())
	s.TemperatureC = readTemperature()
	s.NetworkLatencyMS = probeLatencyMS(ctx, p.ProbeAddr)
	if p.Drift != nil {
		s.DriftEvents = p.Drift.DriftCount()
	}
	return s, nil
}

func (p *ProcSampler) rootPath() string {
	if p.RootPath == "" {
		return "/"
	}
	return p.RootPath
}

func readLoadPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}
	return load1 / float64(cpus) * 100
}

func readMemoryPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var totalKB, availKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB <= 0 {
		return 0
	}
	return (totalKB - availKB) / totalKB * 100
}

func readDiskPercent(path string) float64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	if st.Blocks == 0 {
		return 0
	}
	used := float64(st.Blocks-st.Bavail) / float64(st.Blocks)
	return used * 100
}

// probeDialTimeout bounds the latency probe; the sampling interval is
// far longer than any latency worth distinguishing.
const probeDialTimeout = 2 * time.Second

// probeLatencyMS measures the TCP connect time to addr. An unreachable
// endpoint reads as zero, the same convention as any other unreadable
// signal.
func probeLatencyMS(ctx context.Context, addr string) float64 {
	if addr == "" {
		return 0
	}
	dialer := net.Dialer{Timeout: probeDialTimeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0
	}
	_ = conn.Close()
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// readTemperature returns the hottest readable thermal zone in Celsius.
// Sysfs reports millidegrees.
func readTemperature() float64 {
	zones, err := os.ReadDir("/sys/class/thermal")
	if err != nil {
		return 0
	}
	var maxC float64
	for _, z := range zones {
		if !strings.HasPrefix(z.Name(), "thermal_zone") {
			continue
		}
		data, err := os.ReadFile("/sys/class/thermal/" + z.Name() + "/temp")
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		if c := milli / 1000; c > maxC {
			maxC = c
		}
	}
	return maxC
}
