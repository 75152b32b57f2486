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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/telemetry"
)

// DefaultFailureThreshold and DefaultOpenDuration are the breaker defaults
// from spec §4.B.
const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

// entry is the registry's internal wrapper around a Node, holding metrics,
// health, and breaker state behind a per-entry mutex. Grounded on the
// teacher's managedVSA wrapper (store.go): a lazily-allocated struct keyed
// by id in a sync.Map, with a fast-path Load before any allocation.
type entry struct {
	mu      sync.Mutex
	node    Node
	metrics Metrics
	health  Health
	breaker Breaker

	removedAt atomic.Int64 // UnixNano; 0 until removeNode schedules deletion
}

// Registry is the single shared structure owning node membership, health,
// and breaker state. All counter updates are atomic or serialized per node;
// policy selection reads a consistent-enough snapshot.
type Registry struct {
	nodes sync.Map // id -> *entry

	gracePeriod time.Duration

	// sink, if non-nil, receives observability events (nodeAdded, nodeRemoved,
	// breakerOpened, ...). nil is a valid no-op sink.
	sink EventSink
}

// EventSink is the abstract observability collector described in spec §6.
// It is a small publish/subscribe surface keyed by event name, deliberately
// avoiding dynamic dispatch through inheritance.
type EventSink interface {
	Emit(event string, fields map[string]any)
}

func emit(s EventSink, event string, fields map[string]any) {
	if s == nil {
		return
	}
	s.Emit(event, fields)
}

// New creates an empty Registry. gracePeriod controls how long a draining
// node remains in the registry (still completing in-flight work) before it
// is deleted.
func New(gracePeriod time.Duration, sink EventSink) *Registry {
	return &Registry{gracePeriod: gracePeriod, sink: sink}
}

// AddNode registers a new node. Returns ctlerr.Conflict on a duplicate id.
func (r *Registry) AddNode(id string, cfg Config) error {
	if id == "" {
		return ctlerr.New(ctlerr.InvalidInput, "node id must not be empty")
	}
	weight := cfg.Weight
	if weight < 1 {
		weight = 1
	}
	e := &entry{
		node: Node{
			ID:             id,
			Endpoint:       cfg.Endpoint,
			Weight:         weight,
			Capacity:       cfg.Capacity,
			Tags:           cfg.Tags,
			Topology:       cfg.Topology,
			HasAccelerator: cfg.HasAccelerator,
			Status:         StatusActive,
			CreatedAt:      time.Now(),
		},
		health: Health{Healthy: true, LastProbeTs: time.Now()},
		breaker: Breaker{
			State:            BreakerClosed,
			FailureThreshold: DefaultFailureThreshold,
			OpenDuration:     DefaultOpenDuration,
		},
	}
	if _, loaded := r.nodes.LoadOrStore(id, e); loaded {
		return ctlerr.New(ctlerr.Conflict, "node %q already exists", id)
	}
	emit(r.sink, "nodeAdded", map[string]any{"id": id})
	return nil
}

// RemoveNode marks a node draining; after gracePeriod it becomes eligible
// for physical deletion via ReapDrained. Draining nodes are never returned
// by AvailableNodes, but in-flight requests (already dispatched) complete
// normally since the entry itself is not deleted yet.
func (r *Registry) RemoveNode(id string) error {
	v, ok := r.nodes.Load(id)
	if !ok {
		return ctlerr.New(ctlerr.InvalidInput, "node %q not found", id)
	}
	e := v.(*entry)
	e.mu.Lock()
	e.node.Status = StatusDraining
	e.mu.Unlock()
	e.removedAt.Store(time.Now().UnixNano())
	emit(r.sink, "nodeRemoved", map[string]any{"id": id})
	return nil
}

// ReapDrained deletes nodes that have been draining for longer than
// gracePeriod. Intended to be called periodically by the orchestrator's
// shutdown path or a maintenance loop.
func (r *Registry) ReapDrained() {
	now := time.Now()
	var toDelete []string
	r.nodes.Range(func(key, value any) bool {
		e := value.(*entry)
		removedAt := e.removedAt.Load()
		if removedAt == 0 {
			return true
		}
		if now.Sub(time.Unix(0, removedAt)) >= r.gracePeriod {
			toDelete = append(toDelete, key.(string))
		}
		return true
	})
	for _, id := range toDelete {
		r.nodes.Delete(id)
	}
}

// AvailableNodes returns ids where status==active, health is healthy, and
// the breaker is not open. Order is deterministic (ascending id) so
// selection policies can apply stable tie-breaking.
func (r *Registry) AvailableNodes() []string {
	var ids []string
	r.nodes.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		eligible := e.node.Status == StatusActive && e.health.Healthy && r.breakerEligibleLocked(e)
		e.mu.Unlock()
		if eligible {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// breakerEligibleLocked performs the lazy open->halfOpen transition and
// reports whether the breaker currently allows selection. Caller must hold
// e.mu.
func (r *Registry) breakerEligibleLocked(e *entry) bool {
	b := &e.breaker
	if b.State == BreakerOpen && !time.Now().Before(b.NextAttemptTs) {
		b.State = BreakerHalfOpen
	}
	return b.State != BreakerOpen
}

// IsHalfOpen reports whether a node's breaker is currently half-open, so
// selection policies can prefer other peers when available (spec §4.B).
func (r *Registry) IsHalfOpen(id string) bool {
	e, ok := r.load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.breakerEligibleLocked(e)
	return e.breaker.State == BreakerHalfOpen
}

// Snapshot returns a consistent-enough read of a node's full state.
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	e, ok := r.load(id)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.breakerEligibleLocked(e)
	return Snapshot{Node: e.node, Metrics: e.metrics, Health: e.health, Breaker: e.breaker}, true
}

// Snapshots returns a snapshot for every node currently registered
// (including draining/removed), for stats() and admin surfaces.
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.nodes.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		r.breakerEligibleLocked(e)
		out = append(out, Snapshot{Node: e.node, Metrics: e.metrics, Health: e.health, Breaker: e.breaker})
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Node.ID < out[j].Node.ID })
	return out
}

func (r *Registry) load(id string) (*entry, bool) {
	v, ok := r.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// OnRequestStart increments currentLoad for id. Must be paired with
// OnRequestEnd.
func (r *Registry) OnRequestStart(id string) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.metrics.CurrentLoad++
	e.metrics.Requests++
	e.mu.Unlock()
}

// OnRequestEnd records the outcome of a dispatched request: decrements
// currentLoad, updates the incremental mean latency (over successes only),
// and routes the outcome into the breaker state machine.
func (r *Registry) OnRequestEnd(id string, outcome Outcome, latencyMs float64) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.metrics.CurrentLoad > 0 {
		e.metrics.CurrentLoad--
	}
	e.metrics.LastUpdateTs = time.Now()
	if outcome == Success {
		e.metrics.Successes++
		// Incremental mean over successes only.
		n := float64(e.metrics.Successes)
		e.metrics.AvgResponseTimeMs += (latencyMs - e.metrics.AvgResponseTimeMs) / n
	} else {
		e.metrics.Failures++
	}
	breakerOpened := r.recordBreakerOutcomeLocked(e, outcome)
	e.mu.Unlock()
	if breakerOpened {
		emit(r.sink, "breakerOpened", map[string]any{"id": id})
	}
}

// recordBreakerOutcomeLocked applies the breaker state machine transitions
// described in spec §4.B. Caller must hold e.mu.
func (r *Registry) recordBreakerOutcomeLocked(e *entry, outcome Outcome) (opened bool) {
	b := &e.breaker
	r.breakerEligibleLocked(e)
	prevState := b.State
	switch outcome {
	case Success:
		if b.State == BreakerHalfOpen {
			b.State = BreakerClosed
			b.FailureCount = 0
		} else {
			b.FailureCount = 0
		}
	case Failure:
		b.LastFailureTs = time.Now()
		if b.State == BreakerHalfOpen {
			b.State = BreakerOpen
			b.NextAttemptTs = b.LastFailureTs.Add(b.OpenDuration)
			opened = true
		} else {
			b.FailureCount++
			threshold := b.FailureThreshold
			if threshold <= 0 {
				threshold = DefaultFailureThreshold
			}
			if b.FailureCount >= threshold && b.State == BreakerClosed {
				b.State = BreakerOpen
				dur := b.OpenDuration
				if dur <= 0 {
					dur = DefaultOpenDuration
				}
				b.NextAttemptTs = b.LastFailureTs.Add(dur)
				opened = true
			}
		}
	}
	if b.State != prevState {
		telemetry.ObserveBreakerTransition(e.node.ID, string(b.State))
	}
	return
}

// ProbeFunc is an opaque health probe; the real network call is outside the
// core's concern (spec §1 out-of-scope). It must respect ctx's deadline.
type ProbeFunc func(ctx ProbeContext) error

// ProbeContext carries the minimal information a probe needs.
type ProbeContext struct {
	ID       string
	Endpoint string
}

// RecordProbeResult updates health and breaker state from a completed
// health probe. On success it resets consecutiveFailures and, if the
// breaker is halfOpen, closes it. On failure it increments
// consecutiveFailures and feeds a Failure into the breaker.
func (r *Registry) RecordProbeResult(id string, err error) {
	e, ok := r.load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.health.LastProbeTs = time.Now()
	var opened bool
	if err == nil {
		e.health.Healthy = true
		e.health.ConsecutiveFailures = 0
		e.health.LastError = ""
		opened = r.recordBreakerOutcomeLocked(e, Success)
	} else {
		e.health.ConsecutiveFailures++
		e.health.LastError = err.Error()
		if e.health.ConsecutiveFailures >= DefaultFailureThreshold {
			e.health.Healthy = false
		}
		opened = r.recordBreakerOutcomeLocked(e, Failure)
	}
	e.mu.Unlock()
	if opened {
		emit(r.sink, "breakerOpened", map[string]any{"id": id})
	}
}

// RunHealthProbes concurrently probes every currently-registered node with
// probeTimeout bounding each call so probes never block the request path.
func (r *Registry) RunHealthProbes(probe ProbeFunc, probeTimeout time.Duration) {
	var wg sync.WaitGroup
	r.nodes.Range(func(key, value any) bool {
		id := key.(string)
		e := value.(*entry)
		endpoint := func() string {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.node.Endpoint
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan error, 1)
			go func() { done <- probe(ProbeContext{ID: id, Endpoint: endpoint}) }()
			select {
			case err := <-done:
				r.RecordProbeResult(id, err)
			case <-time.After(probeTimeout):
				r.RecordProbeResult(id, ctlerr.New(ctlerr.Timeout, "probe timed out for %s", id))
			}
		}()
		return true
	})
	wg.Wait()
}
