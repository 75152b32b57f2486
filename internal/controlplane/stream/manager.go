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

package stream

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/telemetry"
	"vectorctl/internal/controlplane/transform"
)

// Sink receives stream lifecycle events.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// Config tunes the Manager. Defaults mirror spec §8.
type Config struct {
	MaxConcurrentStreams int
	StreamTimeout        time.Duration
	GCThreshold          float64
	MaxMemoryUsage       uint64
	WatchdogInterval     time.Duration
	MetricsRetention     time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 50,
		StreamTimeout:        300 * time.Second,
		GCThreshold:          0.8,
		MaxMemoryUsage:       1 << 30,
		WatchdogInterval:     time.Minute,
		MetricsRetention:     5 * time.Minute,
	}
}

type entry struct {
	mu       sync.Mutex
	stream   Stream
	cancel   context.CancelFunc
	finished time.Time // zero while active
}

// Manager owns the registry of in-flight streams: a bounded-size map plus
// counters, exactly as described in spec §4.G's concurrency note.
type Manager struct {
	cfg  Config
	sink Sink

	mu      sync.Mutex
	streams map[string]*entry
	nextID  int

	totalCreated  atomic.Int64
	totalFailed   atomic.Int64
	totalTimedOut atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Manager and starts its watchdog loop.
func New(cfg Config, sink Sink) *Manager {
	if cfg.MaxConcurrentStreams <= 0 {
		cfg.MaxConcurrentStreams = 50
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 300 * time.Second
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = time.Minute
	}
	if cfg.MetricsRetention <= 0 {
		cfg.MetricsRetention = 5 * time.Minute
	}
	m := &Manager{
		cfg:     cfg,
		sink:    sink,
		streams: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.watchdog()
	return m
}

// Close stops the watchdog loop. It does not cancel in-flight streams.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()
}

// CreateStream registers a new stream consuming source and producing framed
// output on the returned channel. Fails with CapacityExceeded when the active
// count is at capacity, or InvalidInput when source is nil.
func (m *Manager) CreateStream(source <-chan transform.Record, opts Options) (string, <-chan transform.Frame, error) {
	if source == nil {
		return "", nil, ctlerr.New(ctlerr.InvalidInput, "stream source must not be nil")
	}

	m.mu.Lock()
	if m.activeCountLocked() >= m.cfg.MaxConcurrentStreams {
		m.mu.Unlock()
		return "", nil, ctlerr.New(ctlerr.CapacityExceeded, "too many concurrent streams (max %d)", m.cfg.MaxConcurrentStreams)
	}
	m.nextID++
	id := fmt.Sprintf("stream-%d", m.nextID)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.StreamTimeout
	}
	now := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	format := opts.Format
	if format == "" {
		format = transform.FormatJSON
	}

	e := &entry{
		stream: Stream{
			ID:              id,
			CreatedAt:       now,
			Status:          StatusActive,
			Priority:        opts.Priority,
			Format:          format,
			CompressionOn:   opts.Compression,
			BatchSize:       batchSize,
			TimeoutDeadline: now.Add(timeout),
		},
	}
	m.streams[id] = e
	active := m.activeCountLocked()
	m.mu.Unlock()
	m.totalCreated.Add(1)
	telemetry.SetActiveStreams(active)

	ctx, cancel := context.WithDeadline(context.Background(), e.stream.TimeoutDeadline)
	e.cancel = cancel

	pipeline, err := transform.New(id, transform.Config{
		Format:           format,
		BatchSize:        batchSize,
		AdaptiveBatching: false,
		Compression:      opts.Compression,
	}, nil)
	if err != nil {
		cancel()
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		return "", nil, ctlerr.Wrap(ctlerr.InvalidInput, err, "stream %s: invalid pipeline configuration", id)
	}

	out := make(chan transform.Frame, 16)
	m.wg.Add(1)
	go m.run(ctx, e, pipeline, source, out)

	return id, out, nil
}

func (m *Manager) run(ctx context.Context, e *entry, pipeline *transform.Pipeline, source <-chan transform.Record, out chan transform.Frame) {
	defer m.wg.Done()
	defer close(out)

	counted := make(chan transform.Record)
	go func() {
		defer close(counted)
		for {
			select {
			case r, ok := <-source:
				if !ok {
					return
				}
				select {
				case counted <- r:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	countingOut := make(chan transform.Frame, cap(out))
	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(ctx, counted, countingOut)
		close(countingOut)
	}()

forward:
	for {
		select {
		case f, ok := <-countingOut:
			if !ok {
				break forward
			}
			e.mu.Lock()
			e.stream.ChunksEmitted++
			e.stream.VectorsEmitted += int64(f.RecordCount)
			e.stream.BytesEmitted += int64(len(f.Bytes))
			e.mu.Unlock()
			select {
			case out <- f:
			case <-ctx.Done():
				break forward
			}
		case <-ctx.Done():
			break forward
		}
	}

	err := <-done
	m.finish(e, err, ctx.Err())
}

func (m *Manager) finish(e *entry, runErr, ctxErr error) {
	e.mu.Lock()
	if e.stream.Status != StatusActive {
		e.mu.Unlock()
		return
	}
	switch {
	case ctxErr == context.Canceled:
		e.stream.Status = StatusCancelled
	case ctxErr == context.DeadlineExceeded:
		e.stream.Status = StatusFailed
		e.stream.ErrorCount++
		m.totalTimedOut.Add(1)
	case runErr != nil:
		e.stream.Status = StatusFailed
		e.stream.ErrorCount++
		m.totalFailed.Add(1)
	default:
		e.stream.Status = StatusCompleted
	}
	e.finished = time.Now()
	status := e.stream.Status
	streamID := e.stream.ID
	e.mu.Unlock()

	m.mu.Lock()
	active := m.activeCountLocked()
	m.mu.Unlock()
	telemetry.SetActiveStreams(active)

	if m.sink != nil {
		m.sink.Emit("streamFinished", map[string]any{
			"streamId": streamID,
			"status":   string(status),
		})
	}
}

// Cancel transitions a stream to cancelled and unblocks its producer.
// Idempotent: cancelling an already-terminal stream is a no-op.
func (m *Manager) Cancel(streamID string) error {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok {
		return ctlerr.New(ctlerr.InvalidInput, "unknown stream %s", streamID)
	}
	e.mu.Lock()
	active := e.stream.Status == StatusActive
	e.mu.Unlock()
	if !active {
		return nil
	}
	e.cancel()
	return nil
}

// Get returns a snapshot of a stream's state.
func (m *Manager) Get(streamID string) (Stream, bool) {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok {
		return Stream{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream, true
}

// ActiveStreams returns the ids of all currently active streams.
func (m *Manager) ActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.streams {
		e.mu.Lock()
		active := e.stream.Status == StatusActive
		e.mu.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, e := range m.streams {
		e.mu.Lock()
		if e.stream.Status == StatusActive {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Stats summarizes manager-wide counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ActiveStreams: len(m.ActiveStreams()),
		TotalCreated:  m.totalCreated.Load(),
		TotalFailed:   m.totalFailed.Load(),
		TotalTimedOut: m.totalTimedOut.Load(),
	}
}

// watchdog runs every WatchdogInterval: it reaps terminal stream metrics
// older than MetricsRetention and requests a GC hint when heap usage
// exceeds GCThreshold*MaxMemoryUsage (spec §4.G).
func (m *Manager) watchdog() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reapTerminal(time.Now())
			m.maybeGC()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) reapTerminal(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.streams {
		e.mu.Lock()
		terminal := e.stream.Status != StatusActive
		finishedAt := e.finished
		e.mu.Unlock()
		if terminal && !finishedAt.IsZero() && now.Sub(finishedAt) > m.cfg.MetricsRetention {
			delete(m.streams, id)
		}
	}
}

func (m *Manager) maybeGC() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if float64(ms.HeapAlloc) > m.cfg.GCThreshold*float64(m.cfg.MaxMemoryUsage) {
		runtime.GC()
		if m.sink != nil {
			m.sink.Emit("gcHintRequested", map[string]any{"heapAlloc": ms.HeapAlloc})
		}
	}
}
