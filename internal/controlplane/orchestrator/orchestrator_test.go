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

package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/registry"
	"vectorctl/internal/controlplane/selector"
)

type fakeBackend struct {
	delay   time.Duration
	failIDs map[string]bool
	calls   atomic.Int64
}

func (f *fakeBackend) Process(ctx context.Context, node registry.Node, req Request) (any, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failIDs[node.ID] {
		return nil, errors.New("simulated backend failure")
	}
	return "ok", nil
}

func newTestOrchestrator(t *testing.T, backend Backend, alg selector.Algorithm) (*Orchestrator, *registry.Registry) {
	t.Helper()
	reg := registry.New(time.Minute, nil)
	for _, id := range []string{"a", "b"} {
		if err := reg.AddNode(id, registry.Config{Weight: 1}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	return New(reg, backend, Config{Algorithm: alg}, nil), reg
}

func TestDispatch_NoAvailableNodes(t *testing.T) {
	reg := registry.New(time.Minute, nil)
	o := New(reg, &fakeBackend{}, Config{Algorithm: selector.RoundRobin}, nil)
	_, err := o.Dispatch(context.Background(), Request{})
	if !ctlerr.Is(err, ctlerr.NoAvailableNodes) {
		t.Fatalf("expected NoAvailableNodes, got %v", err)
	}
}

func TestDispatch_SuccessUpdatesStats(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeBackend{}, selector.RoundRobin)
	for i := 0; i < 10; i++ {
		if _, err := o.Dispatch(context.Background(), Request{}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	stats := o.Stats()
	if stats.TotalRequests != 10 || stats.Successes != 10 || stats.Failures != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDispatch_BackendFailureWrapped(t *testing.T) {
	backend := &fakeBackend{failIDs: map[string]bool{"a": true, "b": true}}
	o, _ := newTestOrchestrator(t, backend, selector.RoundRobin)
	_, err := o.Dispatch(context.Background(), Request{})
	if !ctlerr.Is(err, ctlerr.BackendFailure) {
		t.Fatalf("expected BackendFailure, got %v", err)
	}
}

func TestDispatch_DeadlineExceededIsTimeout(t *testing.T) {
	backend := &fakeBackend{delay: 100 * time.Millisecond}
	o, _ := newTestOrchestrator(t, backend, selector.RoundRobin)
	_, err := o.Dispatch(context.Background(), Request{Deadline: time.Now().Add(5 * time.Millisecond)})
	if !ctlerr.Is(err, ctlerr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestDispatch_SessionAffinitySticksToSameNode(t *testing.T) {
	reg := registry.New(time.Minute, nil)
	for _, id := range []string{"a", "b", "c"} {
		_ = reg.AddNode(id, registry.Config{Weight: 1})
	}
	o := New(reg, &fakeBackend{}, Config{Algorithm: selector.RoundRobin, SessionAffinity: true}, nil)

	var first string
	for i := 0; i < 20; i++ {
		res, err := o.Dispatch(context.Background(), Request{SessionID: "sticky-session"})
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if first == "" {
			first = res.NodeID
		} else if res.NodeID != first {
			t.Fatalf("affinity drifted: got %s want %s", res.NodeID, first)
		}
	}
}

// TestDispatch_Draining is testable property #4 extended to the dispatch
// path: a draining node never receives new dispatches.
func TestDispatch_Draining(t *testing.T) {
	o, reg := newTestOrchestrator(t, &fakeBackend{}, selector.RoundRobin)
	if err := reg.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	for i := 0; i < 10; i++ {
		res, err := o.Dispatch(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if res.NodeID != "b" {
			t.Fatalf("expected only node b to be chosen, got %s", res.NodeID)
		}
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeBackend{}, selector.LeastConnections)
	done := make(chan error, 100)
	for i := 0; i < 100; i++ {
		go func() {
			_, err := o.Dispatch(context.Background(), Request{})
			done <- err
		}()
	}
	for i := 0; i < 100; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent dispatch failed: %v", err)
		}
	}
	if got := o.Stats().TotalRequests; got != 100 {
		t.Fatalf("expected 100 total requests, got %d", got)
	}
}
