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

package experiment

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"sync"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/telemetry"
)

// Sink receives experiment lifecycle and analysis events.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// Runner executes a participant's request against a chosen variant's
// opaque implementation. The core never defines what a variant does
// (spec §6 Backend boundary philosophy).
type Runner interface {
	Run(ctx context.Context, variant Variant) (any, error)
}

// New constructs an Experiment in status=created.
func New(id, name string, cfg Config) *Handle {
	if cfg.SignificanceLevel == 0 {
		cfg = DefaultConfig()
	}
	return &Handle{
		data: &data{
			ID:                     id,
			Name:                   name,
			Status:                 StatusCreated,
			Config:                 cfg,
			variantIndex:           make(map[string]int),
			participantAssignments: make(map[string]string),
		},
		stop: make(chan struct{}),
	}
}

// data is the mutable experiment record (spec §3 Experiment type).
type data struct {
	ID        string
	Name      string
	Status    Status
	StartedAt time.Time
	StoppedAt time.Time
	Config    Config

	variants               []*Variant
	variantIndex           map[string]int
	participantAssignments map[string]string

	totalParticipants int64
	lastAnalysis      *Analysis
}

// Handle is the concurrency-safe handle callers interact with.
type Handle struct {
	mu       sync.Mutex
	data     *data
	sink     Sink
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// AddVariant registers a variant; rejects duplicate ids.
func (h *Handle) AddVariant(id, name string, cfg VariantConfig, implementationRef string, isControl bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.data.variantIndex[id]; exists {
		return ctlerr.New(ctlerr.Conflict, "variant %s already exists in experiment %s", id, h.data.ID)
	}
	v := &Variant{
		ID:                id,
		Name:              name,
		Config:            cfg,
		ImplementationRef: implementationRef,
		IsControl:         isControl,
		CustomMetrics:     make(map[string][]float64),
		Active:            true,
	}
	h.data.variantIndex[id] = len(h.data.variants)
	h.data.variants = append(h.data.variants, v)
	return nil
}

// Start transitions the experiment to running, requiring at least two
// variants, and begins periodic interim analysis every AnalysisInterval.
func (h *Handle) Start() error {
	h.mu.Lock()
	if h.data.Status != StatusCreated {
		h.mu.Unlock()
		return ctlerr.New(ctlerr.Conflict, "experiment %s is %s, cannot start", h.data.ID, h.data.Status)
	}
	if len(h.data.variants) < 2 {
		h.mu.Unlock()
		return ctlerr.New(ctlerr.InvalidInput, "experiment %s needs at least 2 variants to start", h.data.ID)
	}
	now := time.Now()
	h.data.StartedAt = now
	h.data.Status = StatusRunning
	for _, v := range h.data.variants {
		v.StartedAt = now
	}
	interval := h.data.Config.AnalysisInterval
	h.mu.Unlock()

	if interval <= 0 {
		interval = time.Hour
	}
	h.wg.Add(1)
	go h.analysisLoop(interval)
	return nil
}

func (h *Handle) analysisLoop(interval time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Analyze(time.Now())
			h.checkEarlyStopping(time.Now())
		case <-h.stop:
			return
		}
	}
}

// Stop finalizes analysis and transitions to stopped.
func (h *Handle) Stop(reason string) (Analysis, error) {
	h.mu.Lock()
	if h.data.Status != StatusRunning {
		h.mu.Unlock()
		return Analysis{}, ctlerr.New(ctlerr.Conflict, "experiment %s is %s, cannot stop", h.data.ID, h.data.Status)
	}
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()

	analysis := h.Analyze(time.Now())

	h.mu.Lock()
	h.data.Status = StatusStopped
	h.data.StoppedAt = time.Now()
	h.mu.Unlock()

	if h.sink != nil {
		h.sink.Emit("experimentStopped", map[string]any{
			"experimentId": h.data.ID,
			"reason":       reason,
			"winner":       analysis.Winner,
		})
	}
	return analysis, nil
}

// SetSink wires an observability sink.
func (h *Handle) SetSink(sink Sink) { h.sink = sink }

// Execute assigns participantID a variant (sticky across calls) and, when
// the experiment's trafficAllocation gates the participant in, invokes
// runner against the assigned variant, recording latency and any
// runner-reported metrics. Returns (nil, nil) when the participant is not
// allocated to the experiment.
func (h *Handle) Execute(ctx context.Context, participantID string, runner Runner) (any, error) {
	h.mu.Lock()
	if h.data.Status != StatusRunning {
		h.mu.Unlock()
		return nil, ctlerr.New(ctlerr.Conflict, "experiment %s is not running", h.data.ID)
	}
	if !allocate(h.data.ID, participantID, h.data.Config.TrafficAllocation) {
		h.mu.Unlock()
		return nil, nil
	}
	variant := h.assignLocked(participantID)
	h.mu.Unlock()

	start := time.Now()
	result, err := runner.Run(ctx, *variant)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	h.mu.Lock()
	variant.Participants++
	variant.Samples = append(variant.Samples, latencyMs)
	if m, ok := resultMetrics(result); ok {
		for k, v := range m {
			variant.CustomMetrics[k] = append(variant.CustomMetrics[k], v)
		}
	}
	h.data.totalParticipants++
	h.mu.Unlock()

	telemetry.ObserveExperimentSample(h.data.ID, variant.ID)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// resultMetrics extracts a map[string]float64 from a runner result that
// opts into carrying custom metrics, without requiring a concrete type.
func resultMetrics(result any) (map[string]float64, bool) {
	type metricsCarrier interface {
		Metrics() map[string]float64
	}
	mc, ok := result.(metricsCarrier)
	if !ok {
		return nil, false
	}
	return mc.Metrics(), true
}

// assignLocked returns the sticky variant for participantID, computing and
// recording it on first encounter. New participants are assigned only
// among Active variants, so an auto-promotion (maybePromote) that
// deactivates the loser actually redirects subsequent traffic to the
// winner; already-assigned participants keep their original variant
// regardless of its later Active state. Caller holds h.mu.
func (h *Handle) assignLocked(participantID string) *Variant {
	if vid, ok := h.data.participantAssignments[participantID]; ok {
		return h.data.variants[h.data.variantIndex[vid]]
	}
	candidates := h.data.variants
	if active := activeVariants(h.data.variants); len(active) > 0 {
		candidates = active
	}
	idx := variantIndexForParticipant(h.data.ID, participantID, len(candidates))
	v := candidates[idx]
	h.data.participantAssignments[participantID] = v.ID
	return v
}

// activeVariants returns the subset of variants with Active set.
func activeVariants(variants []*Variant) []*Variant {
	active := make([]*Variant, 0, len(variants))
	for _, v := range variants {
		if v.Active {
			active = append(active, v)
		}
	}
	return active
}

// variantIndexForParticipant computes the deterministic variant slot for
// (experimentID, participantID): an MD5 digest's leading 32 bits,
// normalized to [0,1), indexes into the ordered variant list (spec §4.H).
func variantIndexForParticipant(experimentID, participantID string, n int) int {
	sum := md5.Sum([]byte(experimentID + ":" + participantID))
	leading := binary.BigEndian.Uint32(sum[:4])
	u := float64(leading) / float64(1<<32)
	idx := int(u * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// allocate applies the uniform trafficAllocation gate deterministically
// per participant, so repeated calls gate the same participant the same
// way without needing to consult sticky state.
func allocate(experimentID, participantID string, trafficAllocation float64) bool {
	if trafficAllocation >= 1.0 {
		return true
	}
	if trafficAllocation <= 0 {
		return false
	}
	sum := md5.Sum([]byte("allocate:" + experimentID + ":" + participantID))
	leading := binary.BigEndian.Uint32(sum[:4])
	u := float64(leading) / float64(1<<32)
	return u < trafficAllocation
}

// ID returns the experiment's identifier.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data.ID
}

// Status returns the current lifecycle status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data.Status
}

// TotalParticipants returns the number of participants executed so far.
func (h *Handle) TotalParticipants() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data.totalParticipants
}

// LastAnalysis returns the most recent analysis, if any.
func (h *Handle) LastAnalysis() (Analysis, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data.lastAnalysis == nil {
		return Analysis{}, false
	}
	return *h.data.lastAnalysis, true
}
