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

// Package stream owns the lifecycle of in-flight streaming responses,
// bridging record producers to transform.Pipeline consumers under a
// bounded, watchdog-supervised registry (spec §4.G).
package stream

import (
	"time"

	"vectorctl/internal/controlplane/transform"
)

// Status is the lifecycle state of a Stream.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Options configures a single stream at creation time.
type Options struct {
	Priority    int
	Format      transform.Format
	Compression bool
	BatchSize   int
	Timeout     time.Duration
}

// Stream is the spec §3 Stream type, owned exclusively by the Manager.
type Stream struct {
	ID              string
	CreatedAt       time.Time
	Status          Status
	Priority        int
	Format          transform.Format
	CompressionOn   bool
	BatchSize       int
	ChunksEmitted   int64
	VectorsEmitted  int64
	BytesEmitted    int64
	ErrorCount      int64
	TimeoutDeadline time.Time
}

// Stats summarizes the manager's registry for observability.
type Stats struct {
	ActiveStreams int
	TotalCreated  int64
	TotalFailed   int64
	TotalTimedOut int64
}
