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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSampler replays a fixed sequence of samples, repeating the
// last one once the script runs out.
type scriptedSampler struct {
	script []Sample
	next   int
}

func (s *scriptedSampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.next < len(s.script)-1 {
		s.next++
		return s.script[s.next-1], nil
	}
	return s.script[len(s.script)-1], nil
}

func healthy() Sample {
	return Sample{
		Timestamp:        time.Now().UTC(),
		CPUPercent:       10,
		MemoryPercent:    30,
		DiskPercent:      40,
		TemperatureC:     45,
		NetworkLatencyMS: 20,
	}
}

func TestComputeScoreHealthyBaseline(t *testing.T) {
	score, warnings := ComputeScore(healthy())
	assert.Greater(t, score, 70.0)
	assert.Empty(t, warnings)
}

func TestComputeScoreClamped(t *testing.T) {
	worst := Sample{
		CPUPercent:       500,
		MemoryPercent:    100,
		DiskPercent:      100,
		TemperatureC:     120,
		NetworkLatencyMS: 5000,
		DriftEvents:      50,
	}
	score, warnings := ComputeScore(worst)
	assert.Equal(t, 0.0, score)
	assert.NotEmpty(t, warnings)

	score, _ = ComputeScore(Sample{})
	assert.Equal(t, 100.0, score)
}

// Worsening any single signal while holding the rest fixed must never
// raise the score.
func TestComputeScoreMonotonic(t *testing.T) {
	base := healthy()

	worsen := map[string]func(s Sample, step float64) Sample{
		"cpu":     func(s Sample, step float64) Sample { s.CPUPercent += step; return s },
		"memory":  func(s Sample, step float64) Sample { s.MemoryPercent += step; return s },
		"disk":    func(s Sample, step float64) Sample { s.DiskPercent += step; return s },
		"temp":    func(s Sample, step float64) Sample { s.TemperatureC += step; return s },
		"network": func(s Sample, step float64) Sample { s.NetworkLatencyMS += step; return s },
		"drift":   func(s Sample, step float64) Sample { s.DriftEvents += int64(step); return s },
	}

	for name, fn := range worsen {
		t.Run(name, func(t *testing.T) {
			prev, _ := ComputeScore(base)
			for step := 1.0; step <= 200; step += 7 {
				score, _ := ComputeScore(fn(base, step))
				assert.LessOrEqual(t, score, prev,
					"score rose as %s worsened by %.0f", name, step)
				prev = score
			}
		})
	}
}

func TestComputeScoreDriftWarns(t *testing.T) {
	s := healthy()
	s.DriftEvents = 2
	score, warnings := ComputeScore(s)
	clean, _ := ComputeScore(healthy())
	assert.Less(t, score, clean)
	assert.NotEmpty(t, warnings)
}

func TestComputeScoreNetworkLatencyWarns(t *testing.T) {
	s := healthy()
	s.NetworkLatencyMS = 400
	score, warnings := ComputeScore(s)
	clean, _ := ComputeScore(healthy())
	assert.Less(t, score, clean)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "network latency")
}

func TestProbeLatencyAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := &ProcSampler{ProbeAddr: ln.Addr().String()}
	s, err := p.Sample(t.Context())
	require.NoError(t, err)
	assert.Greater(t, s.NetworkLatencyMS, 0.0)
}

func TestProbeLatencyUnreachableReadsZero(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	assert.Equal(t, 0.0, probeLatencyMS(t.Context(), addr))
	assert.Equal(t, 0.0, probeLatencyMS(t.Context(), ""))
}

func TestMonitorRequestsRecoveryBelowCritical(t *testing.T) {
	sick := Sample{CPUPercent: 100, MemoryPercent: 100, DiskPercent: 100, TemperatureC: 95}
	m := NewMonitor(&scriptedSampler{script: []Sample{sick}}, nil, Config{
		Interval:         time.Hour, // only the immediate first tick fires
		RecoveryCooldown: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case req := <-m.Recoveries():
		assert.Less(t, req.Score, 50.0)
		assert.NotEmpty(t, req.Warnings)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a recovery request for a critically sick sample")
	}

	cancel()
	<-done

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Less(t, latest.Score, 50.0)
}

func TestMonitorHealthySampleStaysQuiet(t *testing.T) {
	m := NewMonitor(&scriptedSampler{script: []Sample{healthy()}}, nil, Config{
		Interval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-m.Recoveries():
		t.Fatal("healthy sample must not request recovery")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestMonitorCooldownSuppressesRepeats(t *testing.T) {
	sick := Sample{CPUPercent: 100, MemoryPercent: 100, DiskPercent: 100, TemperatureC: 95}
	m := NewMonitor(&scriptedSampler{script: []Sample{sick}}, nil, Config{
		Interval:         5 * time.Millisecond,
		RecoveryCooldown: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	<-m.Recoveries() // first request passes the limiter

	// Subsequent critical samples arrive but the cooldown holds.
	select {
	case <-m.Recoveries():
		t.Fatal("cooldown should suppress repeat recovery requests")
	case <-time.After(150 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestSampleRingWrapsAndOrders(t *testing.T) {
	r := newSampleRing(3)
	for i := 1; i <= 5; i++ {
		r.push(Sample{Score: float64(i)})
	}

	all := r.slice()
	require.Len(t, all, 3)
	assert.Equal(t, 3.0, all[0].Score)
	assert.Equal(t, 5.0, all[2].Score)

	newest := r.last(2)
	require.Len(t, newest, 2)
	assert.Equal(t, 5.0, newest[0].Score)
	assert.Equal(t, 4.0, newest[1].Score)
}

func TestTrendDetection(t *testing.T) {
	degrading := newSampleRing(16)
	for score := 100.0; score >= 40; score -= 10 {
		degrading.push(Sample{Score: score})
	}
	assert.Equal(t, TrendDegrading, degrading.trend(8))

	improving := newSampleRing(16)
	for score := 40.0; score <= 100; score += 10 {
		improving.push(Sample{Score: score})
	}
	assert.Equal(t, TrendImproving, improving.trend(8))

	flat := newSampleRing(16)
	for i := 0; i < 8; i++ {
		flat.push(Sample{Score: 90})
	}
	assert.Equal(t, TrendStable, flat.trend(8))

	sparse := newSampleRing(16)
	sparse.push(Sample{Score: 10})
	assert.Equal(t, TrendStable, sparse.trend(8))
}

func TestProcSamplerNeverFailsOnThisHost(t *testing.T) {
	p := &ProcSampler{}
	s, err := p.Sample(t.Context())
	require.NoError(t, err)
	assert.False(t, s.Timestamp.IsZero())
	assert.GreaterOrEqual(t, s.MemoryPercent, 0.0)
	assert.LessOrEqual(t, s.MemoryPercent, 100.0)
}
