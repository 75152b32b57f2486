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

// Package orchestrator ties the registry, health/breaker state, and
// selection policies together into the request dispatch path. Grounded on
// the teacher's api.Server handler shape (server.go): identify the caller,
// perform the fast in-memory decision, invoke the opaque downstream, and
// record the outcome.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/registry"
	"vectorctl/internal/controlplane/selector"
	"vectorctl/internal/controlplane/telemetry"
)

// Request is the logical inbound request described in spec §6.
type Request struct {
	ParticipantID string
	SessionID     string
	Type          string
	DataSize      int64
	VectorCount   int
	Deadline      time.Time
	Payload       any
}

// Result is the opaque outcome of a dispatched request.
type Result struct {
	NodeID    string
	LatencyMs float64
	Payload   any
}

// Backend is the opaque downstream collaborator; the core never defines
// its wire format (spec §6).
type Backend interface {
	Process(ctx context.Context, node registry.Node, req Request) (any, error)
}

// Config configures the orchestrator's dispatch behavior.
type Config struct {
	Algorithm       selector.Algorithm
	SessionAffinity bool
}

// Orchestrator dispatches requests to backend nodes chosen by a pluggable
// Policy, updating Registry counters and tracking process-wide statistics.
type Orchestrator struct {
	reg      *registry.Registry
	policy   selector.Policy
	backend  Backend
	affinity *selector.Affinity
	cfg      Config

	startedAt time.Time

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	latencySumMs  atomic.Int64 // fixed-point: milliseconds*1000 to avoid float CAS loops
	latencyCount  atomic.Int64

	sink registry.EventSink
}

// New constructs an Orchestrator wired to reg and backend.
func New(reg *registry.Registry, backend Backend, cfg Config, sink registry.EventSink) *Orchestrator {
	return &Orchestrator{
		reg:       reg,
		policy:    selector.New(cfg.Algorithm),
		backend:   backend,
		affinity:  selector.NewAffinity(nil),
		cfg:       cfg,
		startedAt: time.Now(),
		sink:      sink,
	}
}

// Dispatch selects a node per the configured policy, invokes the backend,
// and records the outcome. It fails with NoAvailableNodes when the
// eligible set is empty, Timeout when req.Deadline elapses first, or
// BackendFailure wrapping the backend's own error.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (Result, error) {
	o.totalRequests.Add(1)

	available := o.reg.AvailableNodes()
	if len(available) == 0 {
		o.failures.Add(1)
		return Result{}, ctlerr.New(ctlerr.NoAvailableNodes, "no nodes available for dispatch")
	}

	candidates := preferNonHalfOpen(o.reg, available)

	id, err := o.chooseNode(candidates, req)
	if err != nil {
		o.failures.Add(1)
		return Result{}, err
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	snap, _ := o.reg.Snapshot(id)
	o.reg.OnRequestStart(id)
	start := time.Now()

	resultCh := make(chan struct {
		payload any
		err     error
	}, 1)
	go func() {
		payload, err := o.backend.Process(ctx, snap.Node, req)
		resultCh <- struct {
			payload any
			err     error
		}{payload, err}
	}()

	var outcome registry.Outcome
	var res Result
	var dispatchErr error
	select {
	case <-ctx.Done():
		outcome = registry.Failure
		dispatchErr = ctlerr.New(ctlerr.Timeout, "dispatch to %s exceeded deadline", id)
	case r := <-resultCh:
		if r.err != nil {
			outcome = registry.Failure
			dispatchErr = ctlerr.Wrap(ctlerr.BackendFailure, r.err, "node %s returned an error", id)
		} else {
			outcome = registry.Success
			res = Result{NodeID: id, Payload: r.payload}
		}
	}

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	res.LatencyMs = latencyMs
	o.reg.OnRequestEnd(id, outcome, latencyMs)
	o.recordGlobal(outcome, latencyMs)

	if dispatchErr != nil {
		return Result{}, dispatchErr
	}
	return res, nil
}

func (o *Orchestrator) chooseNode(available []string, req Request) (string, error) {
	if o.cfg.SessionAffinity && req.SessionID != "" {
		bound := o.affinity.Bind(req.SessionID, available)
		if bound != "" {
			return bound, nil
		}
	}
	return o.policy.Select(available, o.reg.Snapshot, selector.RequestContext{
		SessionID: req.SessionID,
		DataSize:  req.DataSize,
	})
}

// preferNonHalfOpen filters to non-halfOpen peers when any exist, per spec
// §4.B ("policies SHOULD prefer non-halfOpen peers when available").
func preferNonHalfOpen(reg *registry.Registry, available []string) []string {
	var closedOnly []string
	for _, id := range available {
		if !reg.IsHalfOpen(id) {
			closedOnly = append(closedOnly, id)
		}
	}
	if len(closedOnly) > 0 {
		return closedOnly
	}
	return available
}

func (o *Orchestrator) recordGlobal(outcome registry.Outcome, latencyMs float64) {
	success := outcome == registry.Success
	if success {
		o.successes.Add(1)
	} else {
		o.failures.Add(1)
	}
	o.latencySumMs.Add(int64(latencyMs * 1000))
	o.latencyCount.Add(1)
	telemetry.ObserveDispatch(success, latencyMs)
}

// Stats is a snapshot of registry state plus process-wide counters.
type Stats struct {
	TotalRequests int64
	Successes     int64
	Failures      int64
	ThroughputRPS float64
	AvgLatencyMs  float64
	Nodes         []registry.Snapshot
}

// Stats returns a snapshot of registry + global counters.
func (o *Orchestrator) Stats() Stats {
	uptime := time.Since(o.startedAt).Seconds()
	total := o.totalRequests.Load()
	var throughput float64
	if uptime > 0 {
		throughput = float64(total) / uptime
	}
	var avgLatency float64
	if n := o.latencyCount.Load(); n > 0 {
		avgLatency = float64(o.latencySumMs.Load()) / 1000.0 / float64(n)
	}
	return Stats{
		TotalRequests: total,
		Successes:     o.successes.Load(),
		Failures:      o.failures.Load(),
		ThroughputRPS: throughput,
		AvgLatencyMs:  avgLatency,
		Nodes:         o.reg.Snapshots(),
	}
}

// Shutdown performs the two-phase shutdown described in spec §5: mark all
// nodes draining, wait gracePeriod, then the caller is responsible for
// stopping background loops and closing streams.
func (o *Orchestrator) Shutdown(gracePeriod time.Duration) {
	for _, snap := range o.reg.Snapshots() {
		_ = o.reg.RemoveNode(snap.Node.ID)
	}
	time.Sleep(gracePeriod)
	o.reg.ReapDrained()
}
