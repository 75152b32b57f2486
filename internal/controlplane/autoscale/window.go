// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autoscale

import (
	"sync"
	"time"
)

// point is a single (value, timestamp) sample. Grounded on the rolling
// windowPoints slice in telemetry/churn/exporter.go: append, then prune
// everything older than the retention window on each read/write.
type point struct {
	value float64
	ts    time.Time
}

// MetricWindow is a ring of samples retained for a sliding window W;
// readers request the mean over a window W' <= W (spec §3).
type MetricWindow struct {
	mu        sync.Mutex
	retention time.Duration
	samples   []point
}

// NewMetricWindow creates a window retaining samples for at most retention.
func NewMetricWindow(retention time.Duration) *MetricWindow {
	return &MetricWindow{retention: retention}
}

// Record appends a new sample at the current time and prunes anything
// older than the retention window.
func (w *MetricWindow) Record(value float64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, point{value: value, ts: now})
	w.pruneLocked(now)
}

func (w *MetricWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	idx := 0
	for idx < len(w.samples) && w.samples[idx].ts.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.samples = w.samples[idx:]
	}
}

// Mean returns the arithmetic mean over the trailing sub-window of
// duration subWindow (<= retention). Returns 0 if there are no samples in
// range.
func (w *MetricWindow) Mean(subWindow time.Duration, now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	cutoff := now.Add(-subWindow)
	var sum float64
	var n int
	for _, s := range w.samples {
		if s.ts.Before(cutoff) {
			continue
		}
		sum += s.value
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
