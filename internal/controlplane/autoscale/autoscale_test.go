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
	"testing"
	"time"
)

type noopProvisioner struct{}

func (noopProvisioner) Provision(id string) error    { return nil }
func (noopProvisioner) Decommission(id string) error { return nil }

type recordingSink struct{ events []ScalingEvent }

func (s *recordingSink) Emit(event string, fields map[string]any) {
	s.events = append(s.events, ScalingEvent{
		Before: fields["before"].(int),
		After:  fields["after"].(int),
		Reason: fields["reason"].(string),
	})
}

func feed(c *Controller, cpuUtil float64, now time.Time) {
	for i := 0; i < 5; i++ {
		c.RecordMetrics(cpuUtil, 40, 100, 20, now.Add(-time.Duration(i)*time.Second))
	}
}

// TestAutoscale_MonotonicGrowthUnderSustainedLoad is testable property #5:
// under a constant cpuUtil above the scale-up threshold, instance count is
// monotonically non-decreasing across successive evaluations, and no two
// scale-ups happen within the cooldown window.
func TestAutoscale_MonotonicGrowthUnderSustainedLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 2
	cfg.Max = 8
	cfg.Cooldown = 10 * time.Minute
	c := New(cfg, noopProvisioner{}, nil)

	now := time.Now()
	prev := c.Current()
	for i := 0; i < 6; i++ {
		feed(c, 90, now)
		c.Evaluate(now)
		cur := c.Current()
		if cur < prev {
			t.Fatalf("instance count decreased under sustained load: %d -> %d", prev, cur)
		}
		prev = cur
		now = now.Add(1 * time.Minute)
	}
	if prev <= cfg.Min {
		t.Fatalf("expected growth above Min=%d, got %d", cfg.Min, prev)
	}
	if prev > cfg.Max {
		t.Fatalf("exceeded Max=%d, got %d", cfg.Max, prev)
	}
}

// TestAutoscale_ScenarioS3 follows spec scenario S3: min=2, max=8, current=2,
// cpuUtil=90% scales to 3; a second evaluation immediately after (within
// cooldown) must be a no-op; only once the cooldown elapses does a further
// evaluation at 90% scale again.
func TestAutoscale_ScenarioS3(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 2
	cfg.Max = 8
	cfg.Cooldown = 10 * time.Minute
	c := New(cfg, noopProvisioner{}, nil)

	now := time.Now()
	feed(c, 90, now)
	ev := c.Evaluate(now)
	if ev.Reason != "scale-up" || ev.After <= ev.Before {
		t.Fatalf("expected first scale-up, got %+v", ev)
	}
	afterFirst := c.Current()

	now = now.Add(1 * time.Minute)
	feed(c, 90, now)
	ev2 := c.Evaluate(now)
	if ev2.Reason != "cooldown" {
		t.Fatalf("expected cooldown no-op, got %+v", ev2)
	}
	if c.Current() != afterFirst {
		t.Fatalf("instance count changed during cooldown: %d -> %d", afterFirst, c.Current())
	}

	now = now.Add(cfg.Cooldown)
	feed(c, 90, now)
	ev3 := c.Evaluate(now)
	if ev3.Reason != "scale-up" || ev3.After <= afterFirst {
		t.Fatalf("expected scale-up after cooldown elapsed, got %+v", ev3)
	}
}

func TestAutoscale_ScaleDownRespectsMin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 2
	cfg.Max = 8
	cfg.Cooldown = time.Minute
	c := New(cfg, noopProvisioner{}, nil)

	now := time.Now()
	feed(c, 90, now)
	c.Evaluate(now)
	for i := 0; i < 5 && c.Current() < cfg.Max; i++ {
		now = now.Add(cfg.Cooldown + time.Second)
		feed(c, 90, now)
		c.Evaluate(now)
	}

	for i := 0; i < 10; i++ {
		now = now.Add(cfg.Cooldown + time.Second)
		feed(c, 5, now)
		c.Evaluate(now)
	}
	if c.Current() < cfg.Min {
		t.Fatalf("scaled below Min=%d, got %d", cfg.Min, c.Current())
	}
}

func TestAutoscale_ScalingCompletedEventEmitted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 1
	cfg.Max = 4
	cfg.Cooldown = time.Minute
	sink := &recordingSink{}
	c := New(cfg, noopProvisioner{}, sink)

	now := time.Now()
	feed(c, 90, now)
	c.Evaluate(now)

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one scalingCompleted event, got %d", len(sink.events))
	}
	if sink.events[0].Reason != "scale-up" {
		t.Fatalf("unexpected event reason: %+v", sink.events[0])
	}
}

func TestMetricWindow_PrunesOldSamples(t *testing.T) {
	w := NewMetricWindow(time.Minute)
	now := time.Now()
	w.Record(100, now.Add(-2*time.Minute))
	w.Record(10, now)
	if got := w.Mean(time.Minute, now); got != 10 {
		t.Fatalf("expected pruned mean of 10, got %v", got)
	}
}

func TestMetricWindow_EmptyIsZero(t *testing.T) {
	w := NewMetricWindow(time.Minute)
	if got := w.Mean(time.Minute, time.Now()); got != 0 {
		t.Fatalf("expected 0 on empty window, got %v", got)
	}
}
