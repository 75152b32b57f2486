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

// Package registry owns backend node bookkeeping: identity, live metrics,
// health, and circuit-breaker state. It is the single point of shared
// mutation for node membership; per-node counters are updated atomically.
package registry

import "time"

// Status is the lifecycle state of a Node.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
	StatusRemoved  Status = "removed"
)

// Config describes a node at creation time.
type Config struct {
	Endpoint       string
	Weight         int64
	Capacity       int64
	Tags           []string
	Topology       TopologyEntry
	HasAccelerator bool
}

// TopologyEntry captures optional topology hints used by topology-aware
// selection.
type TopologyEntry struct {
	LocalAccelerators int
	InterconnectBWMbps float64
	PeerIDs           []string
	MemoryCapacity    int64
	AvailableMemory   int64
}

// Node is the registry's record for a single backend instance. The
// Registry exclusively owns each Node; policies and callers hold only its
// ID and read a snapshot via Registry.Snapshot.
type Node struct {
	ID             string
	Endpoint       string
	Weight         int64
	Capacity       int64
	Tags           []string
	Topology       TopologyEntry
	HasAccelerator bool
	Status         Status
	CreatedAt      time.Time
}

// Metrics is the live counters for a node. Invariants: CurrentLoad >= 0;
// Successes+Failures <= Requests; AvgResponseTimeMs >= 0.
type Metrics struct {
	Requests          int64
	Successes         int64
	Failures          int64
	CurrentLoad       int64
	AvgResponseTimeMs float64
	CPUUtil           float64
	MemUtil           float64
	LastUpdateTs      time.Time
}

// Health is the health-probe-derived state of a node.
type Health struct {
	Healthy             bool
	LastProbeTs         time.Time
	ConsecutiveFailures int
	LastError           string
}

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is the per-node circuit-breaker state machine state.
type Breaker struct {
	State            BreakerState
	FailureCount     int
	LastFailureTs    time.Time
	NextAttemptTs    time.Time
	FailureThreshold int
	OpenDuration     time.Duration
}

// Snapshot is a read-only, consistent-enough view of a node for selection
// policies. Strict linearizability is not required: stale reads of at most
// one health-check interval are acceptable.
type Snapshot struct {
	Node    Node
	Metrics Metrics
	Health  Health
	Breaker Breaker
}

// Outcome is the result of a dispatched request, fed into onRequestEnd.
type Outcome int

const (
	Success Outcome = iota
	Failure
)
