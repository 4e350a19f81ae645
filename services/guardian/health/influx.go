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
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Sink receives scored samples for external storage or analysis.
type Sink interface {
	Write(ctx context.Context, sample Sample) error
}

// InfluxSink writes samples to an InfluxDB bucket as a time series.
//
// # Description
//
// One point per sample under the "health_samples" measurement, tagged
// with the host name. Write failures are the caller's to log; the
// Monitor treats them as non-fatal.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	hostname string
}

// NewInfluxSink connects to InfluxDB. The connection is lazy; a bad URL
// surfaces on the first write.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	hostname, _ := os.Hostname()
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		hostname: hostname,
	}
}

func (s *InfluxSink) Write(ctx context.Context, sample Sample) error {
	p := influxdb2.NewPoint(
		"health_samples",
		map[string]string{
			"host": s.hostname,
		},
		map[string]interface{}{
			"score":          sample.Score,
			"cpu_percent":    sample.CPUPercent,
			"memory_percent": sample.MemoryPercent,
			"disk_percent":   sample.DiskPercent,
			"temperature_c":  sample.TemperatureC,
			"drift_events":   sample.DriftEvents,
			"warning_count":  len(sample.Warnings),
		},
		sample.Timestamp,
	)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
