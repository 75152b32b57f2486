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

package registry

import (
	"errors"
	"testing"
	"time"
)

func TestAddNode_DuplicateConflict(t *testing.T) {
	r := New(time.Minute, nil)
	if err := r.AddNode("a", Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.AddNode("a", Config{}); err == nil {
		t.Fatalf("expected conflict error for duplicate node")
	}
}

func TestBreaker_OpensAfterThresholdAndRecovers(t *testing.T) {
	r := New(time.Minute, nil)
	if err := r.AddNode("a", Config{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	// Shrink the open duration so the test doesn't need to sleep 30s.
	snap, _ := r.Snapshot("a")
	_ = snap
	e, _ := r.load("a")
	e.mu.Lock()
	e.breaker.OpenDuration = 20 * time.Millisecond
	e.mu.Unlock()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		r.OnRequestEnd("a", Failure, 0)
		if s, _ := r.Snapshot("a"); s.Breaker.State != BreakerClosed {
			t.Fatalf("breaker opened too early at failure %d", i+1)
		}
	}
	r.OnRequestEnd("a", Failure, 0)
	s, _ := r.Snapshot("a")
	if s.Breaker.State != BreakerOpen {
		t.Fatalf("expected breaker open after %d failures, got %v", DefaultFailureThreshold, s.Breaker.State)
	}
	if ids := r.AvailableNodes(); len(ids) != 0 {
		t.Fatalf("expected no available nodes while breaker open, got %v", ids)
	}

	time.Sleep(30 * time.Millisecond)
	s, _ = r.Snapshot("a")
	if s.Breaker.State != BreakerHalfOpen {
		t.Fatalf("expected half_open after openDuration elapsed, got %v", s.Breaker.State)
	}

	r.OnRequestEnd("a", Success, 5)
	s, _ = r.Snapshot("a")
	if s.Breaker.State != BreakerClosed {
		t.Fatalf("expected closed after success in half_open, got %v", s.Breaker.State)
	}
}

func TestDraining_NeverAvailable(t *testing.T) {
	r := New(time.Hour, nil)
	if err := r.AddNode("a", Config{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	r.OnRequestStart("a")
	if err := r.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if ids := r.AvailableNodes(); len(ids) != 0 {
		t.Fatalf("draining node should not be available, got %v", ids)
	}
	// In-flight requests complete normally: OnRequestEnd must not panic or
	// be rejected for a draining node.
	r.OnRequestEnd("a", Success, 1)
	s, ok := r.Snapshot("a")
	if !ok {
		t.Fatalf("expected draining node to still be present before grace period elapses")
	}
	if s.Metrics.Successes != 1 {
		t.Fatalf("expected in-flight completion to be recorded")
	}
}

func TestReapDrained_DeletesAfterGracePeriod(t *testing.T) {
	r := New(20*time.Millisecond, nil)
	if err := r.AddNode("a", Config{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := r.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	r.ReapDrained()
	if _, ok := r.Snapshot("a"); !ok {
		t.Fatalf("node should still exist before grace period elapses")
	}
	time.Sleep(30 * time.Millisecond)
	r.ReapDrained()
	if _, ok := r.Snapshot("a"); ok {
		t.Fatalf("node should be deleted after grace period elapses")
	}
}

func TestRunHealthProbes_SuccessAndFailure(t *testing.T) {
	r := New(time.Minute, nil)
	_ = r.AddNode("healthy", Config{})
	_ = r.AddNode("sick", Config{})

	probe := func(ctx ProbeContext) error {
		if ctx.ID == "sick" {
			return errors.New("boom")
		}
		return nil
	}
	for i := 0; i < DefaultFailureThreshold; i++ {
		r.RunHealthProbes(probe, 50*time.Millisecond)
	}

	if s, _ := r.Snapshot("healthy"); !s.Health.Healthy {
		t.Fatalf("expected healthy node to remain healthy")
	}
	if s, _ := r.Snapshot("sick"); s.Health.Healthy {
		t.Fatalf("expected sick node to become unhealthy after repeated failures")
	}
}

func TestRunHealthProbes_TimeoutIsBounded(t *testing.T) {
	r := New(time.Minute, nil)
	_ = r.AddNode("slow", Config{})
	probe := func(ctx ProbeContext) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}
	start := time.Now()
	r.RunHealthProbes(probe, 10*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("probe should have been bounded by timeout, took %v", elapsed)
	}
}
