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

package transform

import (
	"context"
	"fmt"
	"time"

	"vectorctl/internal/controlplane/telemetry"
)

// Config tunes a Pipeline's batching, compression and framing behavior.
type Config struct {
	Format                Format
	BatchSize             int
	AdaptiveBatching      bool
	Compression           bool
	CompressionLevel      int
	BackpressureThreshold int
}

// Sink receives pipeline observability events (backPressure).
type Sink interface {
	Emit(event string, fields map[string]any)
}

// Frame is one emitted, wire-ready chunk of bytes plus the record count it
// represents, handed to the caller's downstream writer/channel.
type Frame struct {
	Bytes       []byte
	RecordCount int
}

// Pipeline accepts records for exactly one stream and produces framed,
// optionally compressed Frames in order.
type Pipeline struct {
	cfg     Config
	batcher *batcher
	framer  Framer
	sink    Sink
	first   bool
}

// New constructs a Pipeline for streamID.
func New(streamID string, cfg Config, sink Sink) (*Pipeline, error) {
	framer, err := NewFramer(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = DefaultCompressionLevel
	}
	if cfg.BackpressureThreshold == 0 {
		cfg.BackpressureThreshold = 1000
	}
	return &Pipeline{
		cfg:     cfg,
		batcher: newBatcher(streamID, cfg.BatchSize, cfg.AdaptiveBatching),
		framer:  framer,
		sink:    sink,
		first:   true,
	}, nil
}

// Run drains in until it's closed or ctx is cancelled, emitting Frames to
// out in order: a Begin preamble, one Frame per completed batch (plus a
// final short batch on close), then an End trailer. It observes out's
// occupancy relative to BackpressureThreshold and emits a backPressure
// event before a blocking send when the threshold is exceeded; it never
// drops records.
func (p *Pipeline) Run(ctx context.Context, in <-chan Record, out chan<- Frame) error {
	if begin := p.framer.Begin(); len(begin) > 0 {
		if err := p.emit(ctx, out, Frame{Bytes: begin}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				if err := p.flushFinal(ctx, out); err != nil {
					return err
				}
				if end := p.framer.End(); len(end) > 0 {
					if err := p.emit(ctx, out, Frame{Bytes: end}); err != nil {
						return err
					}
				}
				return nil
			}
			batch, ready := p.batcher.Add(r, time.Now())
			if !ready {
				continue
			}
			if err := p.emitBatch(ctx, out, batch); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) flushFinal(ctx context.Context, out chan<- Frame) error {
	batch, ok := p.batcher.Flush()
	if !ok {
		return nil
	}
	return p.emitBatch(ctx, out, batch)
}

func (p *Pipeline) emitBatch(ctx context.Context, out chan<- Frame, batch Batch) error {
	recordCount := len(batch.Vectors)
	if p.cfg.Compression && p.cfg.Format != FormatBinary {
		compressed, err := compressBatch(batch, p.cfg.CompressionLevel)
		if err != nil {
			return err
		}
		batch = compressed
	}
	framed, err := p.framer.Frame(batch, p.first)
	if err != nil {
		return fmt.Errorf("transform: frame batch %s: %w", batch.BatchID, err)
	}
	p.first = false
	return p.emit(ctx, out, Frame{Bytes: framed, RecordCount: recordCount})
}

// emit applies back-pressure observation then performs a (possibly
// blocking) cooperative send.
func (p *Pipeline) emit(ctx context.Context, out chan<- Frame, f Frame) error {
	if cap(out) > 0 && len(out) > p.cfg.BackpressureThreshold {
		telemetry.ObserveBackPressure()
		if p.sink != nil {
			p.sink.Emit("backPressure", map[string]any{
				"queued":    len(out),
				"threshold": p.cfg.BackpressureThreshold,
			})
		}
	}
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
