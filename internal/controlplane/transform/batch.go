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
	"fmt"
	"time"
)

const (
	maxAdaptiveBatchSize = 1000
	minAdaptiveBatchSize = 10
)

// batcher accumulates records up to an effective batch size and, when
// adaptive, adjusts that size by observed throughput (spec §4.F).
type batcher struct {
	targetSize int
	adaptive   bool

	windowStart  time.Time
	windowCount  int
	pending      []Record
	nextBatchNum int
	streamID     string
}

func newBatcher(streamID string, batchSize int, adaptive bool) *batcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &batcher{
		targetSize: batchSize,
		adaptive:   adaptive,
		streamID:   streamID,
	}
}

// Add appends a record, marking its arrival for throughput tracking, and
// returns a completed Batch when the effective size is reached.
func (b *batcher) Add(r Record, now time.Time) (Batch, bool) {
	if b.windowStart.IsZero() {
		b.windowStart = now
	}
	b.windowCount++
	b.pending = append(b.pending, r)

	if b.adaptive {
		b.adaptLocked(now)
	}

	if len(b.pending) >= b.targetSize {
		return b.flush(), true
	}
	return Batch{}, false
}

// Flush drains any pending records into a (possibly short) final Batch.
func (b *batcher) Flush() (Batch, bool) {
	if len(b.pending) == 0 {
		return Batch{}, false
	}
	return b.flush(), true
}

func (b *batcher) flush() Batch {
	records := b.pending
	b.pending = nil
	id := fmt.Sprintf("%s-batch-%d", b.streamID, b.nextBatchNum)
	b.nextBatchNum++
	return Batch{BatchID: id, Vectors: records}
}

// adaptLocked doubles the target size (capped at maxAdaptiveBatchSize) when
// observed throughput exceeds 10k records/s, and halves it (floored at
// minAdaptiveBatchSize) below 1k records/s, re-measured once per second.
func (b *batcher) adaptLocked(now time.Time) {
	elapsed := now.Sub(b.windowStart)
	if elapsed < time.Second {
		return
	}
	rate := float64(b.windowCount) / elapsed.Seconds()
	switch {
	case rate > 10000:
		b.targetSize *= 2
		if b.targetSize > maxAdaptiveBatchSize {
			b.targetSize = maxAdaptiveBatchSize
		}
	case rate < 1000:
		b.targetSize /= 2
		if b.targetSize < minAdaptiveBatchSize {
			b.targetSize = minAdaptiveBatchSize
		}
	}
	b.windowStart = now
	b.windowCount = 0
}
