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

// Package selector implements the pluggable node-selection policies: pure
// functions over a registry snapshot with deterministic, stable-id
// tie-breaking.
package selector

import (
	"sort"
	"sync"
	"sync/atomic"

	"vectorctl/internal/controlplane/registry"
)

// Algorithm names the selector (spec §6 configuration contract).
type Algorithm string

const (
	RoundRobin         Algorithm = "roundRobin"
	WeightedRoundRobin Algorithm = "weightedRoundRobin"
	LeastConnections   Algorithm = "leastConnections"
	LeastResponseTime  Algorithm = "leastResponseTime"
	ResourceScore      Algorithm = "resourceScore"
	TopologyAware      Algorithm = "topologyAware"
	AcceleratorAware   Algorithm = "acceleratorAware"
)

// RequestContext is the subset of an inbound request a policy may consult.
type RequestContext struct {
	SessionID string
	DataSize  int64 // bytes; >1 MiB switches topologyAware's bandwidth term on
}

const oneMiB = 1 << 20

// Policy selects one node id from a set of available ids given a registry
// snapshot provider. Implementations are pure over the snapshots they are
// handed: no network calls, no mutation of registry state.
type Policy interface {
	Select(available []string, snapshot func(id string) (registry.Snapshot, bool), ctx RequestContext) (string, error)
}

// New constructs the named policy; an unrecognized name yields round robin.
func New(alg Algorithm) Policy {
	switch alg {
	case WeightedRoundRobin:
		return &weightedRoundRobinPolicy{}
	case LeastConnections:
		return leastConnectionsPolicy{}
	case LeastResponseTime:
		return leastResponseTimePolicy{}
	case ResourceScore:
		return resourceScorePolicy{}
	case TopologyAware:
		return topologyAwarePolicy{}
	case AcceleratorAware:
		return acceleratorAwarePolicy{fallback: resourceScorePolicy{}}
	default:
		return &roundRobinPolicy{}
	}
}

// stableSort sorts ids ascending so any "first" choice is deterministic.
func stableSort(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// roundRobinPolicy cycles through available ids via a monotone counter mod N.
type roundRobinPolicy struct {
	counter atomic.Uint64
}

func (p *roundRobinPolicy) Select(available []string, _ func(string) (registry.Snapshot, bool), _ RequestContext) (string, error) {
	if len(available) == 0 {
		return "", errNoAvailableNodes
	}
	ids := stableSort(available)
	n := p.counter.Add(1) - 1
	return ids[int(n%uint64(len(ids)))], nil
}

// weightedRoundRobinPolicy advances a shared cursor through [0, sum(w))
// (cursor mod sum(w)) and maps that position to a node via cumulative
// weights, so each node receives exactly its weight share per cycle of
// sum(w) selections (spec §4.C).
type weightedRoundRobinPolicy struct {
	mu     sync.Mutex
	cursor int64
}

func (p *weightedRoundRobinPolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), _ RequestContext) (string, error) {
	if len(available) == 0 {
		return "", errNoAvailableNodes
	}
	ids := stableSort(available)
	weights := make([]int64, len(ids))
	var total int64
	for i, id := range ids {
		w := int64(1)
		if snap, ok := snapshot(id); ok && snap.Node.Weight > 0 {
			w = snap.Node.Weight
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return ids[0], nil
	}

	p.mu.Lock()
	draw := p.cursor % total
	p.cursor++
	p.mu.Unlock()

	var cumulative int64
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return ids[i], nil
		}
	}
	return ids[len(ids)-1], nil
}

// leastConnectionsPolicy picks the argmin of currentLoad, ties broken by id.
type leastConnectionsPolicy struct{}

func (leastConnectionsPolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), _ RequestContext) (string, error) {
	if len(available) == 0 {
		return "", errNoAvailableNodes
	}
	ids := stableSort(available)
	best := ids[0]
	bestLoad := loadOf(snapshot, best)
	for _, id := range ids[1:] {
		if l := loadOf(snapshot, id); l < bestLoad {
			best, bestLoad = id, l
		}
	}
	return best, nil
}

func loadOf(snapshot func(string) (registry.Snapshot, bool), id string) int64 {
	if snap, ok := snapshot(id); ok {
		return snap.Metrics.CurrentLoad
	}
	return 0
}

// leastResponseTimePolicy picks the argmin of avgResponseTimeMs; zero is
// treated as highest priority (a brand-new node with no samples yet).
type leastResponseTimePolicy struct{}

func (leastResponseTimePolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), _ RequestContext) (string, error) {
	if len(available) == 0 {
		return "", errNoAvailableNodes
	}
	ids := stableSort(available)
	for _, id := range ids {
		if snap, ok := snapshot(id); ok && snap.Metrics.AvgResponseTimeMs == 0 {
			return id, nil
		}
	}
	best := ids[0]
	bestRT := rtOf(snapshot, best)
	for _, id := range ids[1:] {
		if rt := rtOf(snapshot, id); rt < bestRT {
			best, bestRT = id, rt
		}
	}
	return best, nil
}

func rtOf(snapshot func(string) (registry.Snapshot, bool), id string) float64 {
	if snap, ok := snapshot(id); ok {
		return snap.Metrics.AvgResponseTimeMs
	}
	return 0
}

// resourceScorePolicy scores nodes as
// 0.4*(1-memUtil) + 0.3*(1-cpuUtil) + 0.3*(1-load/capacity) and picks the
// argmax.
type resourceScorePolicy struct{}

func resourceScore(snap registry.Snapshot) float64 {
	loadRatio := 0.0
	if snap.Node.Capacity > 0 {
		loadRatio = float64(snap.Metrics.CurrentLoad) / float64(snap.Node.Capacity)
	}
	return 0.4*(1-snap.Metrics.MemUtil) + 0.3*(1-snap.Metrics.CPUUtil) + 0.3*(1-loadRatio)
}

func (resourceScorePolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), _ RequestContext) (string, error) {
	return argmax(available, func(id string) (float64, bool) {
		snap, ok := snapshot(id)
		if !ok {
			return 0, false
		}
		return resourceScore(snap), true
	})
}

// topologyAwarePolicy mixes normalized availableMemory, inverse load, and —
// when dataSize>1 MiB — normalized interconnect bandwidth; otherwise an
// inverse-latency term. Weights 0.4/0.3/0.3.
type topologyAwarePolicy struct{}

func (topologyAwarePolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), ctx RequestContext) (string, error) {
	ids := stableSort(available)
	snaps := make(map[string]registry.Snapshot, len(ids))
	var maxMem, maxLoad, maxBW, maxRT float64
	for _, id := range ids {
		snap, ok := snapshot(id)
		if !ok {
			continue
		}
		snaps[id] = snap
		if m := float64(snap.Node.Topology.AvailableMemory); m > maxMem {
			maxMem = m
		}
		if l := float64(snap.Metrics.CurrentLoad); l > maxLoad {
			maxLoad = l
		}
		if bw := snap.Node.Topology.InterconnectBWMbps; bw > maxBW {
			maxBW = bw
		}
		if rt := snap.Metrics.AvgResponseTimeMs; rt > maxRT {
			maxRT = rt
		}
	}
	useBW := ctx.DataSize > oneMiB

	return argmax(ids, func(id string) (float64, bool) {
		snap, ok := snaps[id]
		if !ok {
			return 0, false
		}
		memTerm := normalized(float64(snap.Node.Topology.AvailableMemory), maxMem)
		loadTerm := 1 - normalized(float64(snap.Metrics.CurrentLoad), maxLoad)
		var thirdTerm float64
		if useBW {
			thirdTerm = normalized(snap.Node.Topology.InterconnectBWMbps, maxBW)
		} else {
			thirdTerm = 1 - normalized(snap.Metrics.AvgResponseTimeMs, maxRT)
		}
		return 0.4*memTerm + 0.3*loadTerm + 0.3*thirdTerm, true
	})
}

func normalized(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}

// acceleratorAwarePolicy restricts candidates to nodes advertising an
// accelerator; falls back to resourceScore if none qualify.
type acceleratorAwarePolicy struct {
	fallback Policy
}

func (p acceleratorAwarePolicy) Select(available []string, snapshot func(string) (registry.Snapshot, bool), ctx RequestContext) (string, error) {
	var withAccel []string
	for _, id := range available {
		if snap, ok := snapshot(id); ok && snap.Node.HasAccelerator {
			withAccel = append(withAccel, id)
		}
	}
	if len(withAccel) == 0 {
		return p.fallback.Select(available, snapshot, ctx)
	}
	return resourceScorePolicy{}.Select(withAccel, snapshot, ctx)
}

// argmax picks the id with the largest score, breaking ties by ascending id
// order (stableSort already establishes that order; the first encountered
// maximum wins since we only replace on strictly greater scores).
func argmax(available []string, score func(id string) (float64, bool)) (string, error) {
	ids := stableSort(available)
	var best string
	var bestScore float64
	found := false
	for _, id := range ids {
		s, ok := score(id)
		if !ok {
			continue
		}
		if !found || s > bestScore {
			best, bestScore, found = id, s, true
		}
	}
	if !found {
		return "", errNoAvailableNodes
	}
	return best, nil
}
