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

// TrendDirection indicates how the health score is moving.
type TrendDirection string

const (
	TrendImproving TrendDirection = "IMPROVING"
	TrendDegrading TrendDirection = "DEGRADING"
	TrendStable    TrendDirection = "STABLE"
)

// trendDeadband is the score delta below which movement is reported as
// stable rather than a direction.
const trendDeadband = 2.0

// sampleRing is a fixed-size circular buffer of samples, oldest
// overwritten first.
//
// # Thread Safety
//
// NOT safe for concurrent use; the Monitor synchronizes access.
type sampleRing struct {
	data  []Sample
	head  int // next write position
	count int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity <= 0 {
		capacity = 120
	}
	return &sampleRing{data: make([]Sample, capacity)}
}

func (r *sampleRing) push(s Sample) {
	r.data[r.head] = s
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// slice returns all samples oldest to newest as a copy.
func (r *sampleRing) slice() []Sample {
	if r.count == 0 {
		return nil
	}
	result := make([]Sample, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.data)
	}
	for i := 0; i < r.count; i++ {
		result[i] = r.data[(start+i)%len(r.data)]
	}
	return result
}

// last returns up to n samples, newest first.
func (r *sampleRing) last(n int) []Sample {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	result := make([]Sample, n)
	for i := 0; i < n; i++ {
		idx := r.head - 1 - i
		if idx < 0 {
			idx += len(r.data)
		}
		result[i] = r.data[idx]
	}
	return result
}

// trend compares the mean score of the newer half of the window against
// the older half. Fewer than four samples reads as stable.
func (r *sampleRing) trend(window int) TrendDirection {
	samples := r.last(window)
	if len(samples) < 4 {
		return TrendStable
	}

	mid := len(samples) / 2
	newer := meanScore(samples[:mid]) // last() is newest first
	older := meanScore(samples[mid:])

	switch {
	case newer-older > trendDeadband:
		return TrendImproving
	case older-newer > trendDeadband:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func meanScore(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Score
	}
	return sum / float64(len(samples))
}
