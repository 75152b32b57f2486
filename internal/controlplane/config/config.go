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

// Package config collects the typed, per-subsystem options described in
// spec §8 into one place a demo binary (or embedder) can populate from
// flags or a file, mirroring the teacher's persistence.DemoOptions
// grouping of adapter knobs.
package config

import (
	"time"

	"vectorctl/internal/controlplane/autoscale"
	"vectorctl/internal/controlplane/experiment"
	"vectorctl/internal/controlplane/selector"
	"vectorctl/internal/controlplane/stream"
	"vectorctl/internal/controlplane/transform"
)

// LoadBalancer holds the load-balancer knobs enumerated in spec §8.
type LoadBalancer struct {
	Algorithm               selector.Algorithm
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	SessionAffinity         bool
	GracePeriod             time.Duration
	AdaptiveWeighting       bool
}

// DefaultLoadBalancer returns the spec's documented defaults.
func DefaultLoadBalancer() LoadBalancer {
	return LoadBalancer{
		Algorithm:               selector.RoundRobin,
		HealthCheckInterval:     10 * time.Second,
		CircuitBreakerThreshold: 5,
		SessionAffinity:         false,
		GracePeriod:             30 * time.Second,
		AdaptiveWeighting:       false,
	}
}

// Streams holds the streaming-manager knobs enumerated in spec §8.
type Streams struct {
	DefaultBatchSize      int
	MaxConcurrentStreams  int
	StreamTimeout         time.Duration
	BackpressureThreshold int
	Compression           bool
	AdaptiveStreaming     bool
	MaxMemoryUsage        uint64
	GCThreshold           float64
}

// DefaultStreams returns the spec's documented defaults.
func DefaultStreams() Streams {
	return Streams{
		DefaultBatchSize:      100,
		MaxConcurrentStreams:  50,
		StreamTimeout:         300 * time.Second,
		BackpressureThreshold: 1000,
		Compression:           false,
		AdaptiveStreaming:     false,
		MaxMemoryUsage:        1 << 30,
		GCThreshold:           0.8,
	}
}

// AB holds the A/B testing knobs enumerated in spec §8.
type AB struct {
	TrafficAllocation      float64
	SignificanceLevel      float64
	MinimumSampleSize      int
	MinimumRunTime         time.Duration
	MaximumRunTime         time.Duration
	EarlyStoppingEnabled   bool
	EarlyStoppingThreshold float64
}

// DefaultAB returns the spec's documented defaults.
func DefaultAB() AB {
	return AB{
		TrafficAllocation:      1.0,
		SignificanceLevel:      0.05,
		MinimumSampleSize:      100,
		MinimumRunTime:         24 * time.Hour,
		MaximumRunTime:         30 * 24 * time.Hour,
		EarlyStoppingEnabled:   true,
		EarlyStoppingThreshold: 0.01,
	}
}

// Options aggregates every subsystem's configuration. A demo binary builds
// one of these from flags/env and derives each package's own Config type
// from it via the To* helpers below.
type Options struct {
	LoadBalancer LoadBalancer
	AutoScale    autoscale.Config
	Streams      Streams
	AB           AB
}

// Default returns an Options populated with every subsystem's documented
// defaults (spec §8), with AutoScale.Min/Max left at zero for the caller
// to set explicitly — there is no sane universal default pool size.
func Default() Options {
	return Options{
		LoadBalancer: DefaultLoadBalancer(),
		AutoScale:    autoscale.DefaultConfig(),
		Streams:      DefaultStreams(),
		AB:           DefaultAB(),
	}
}

// ToStreamConfig adapts Streams into stream.Config.
func (s Streams) ToStreamConfig() stream.Config {
	return stream.Config{
		MaxConcurrentStreams: s.MaxConcurrentStreams,
		StreamTimeout:        s.StreamTimeout,
		GCThreshold:          s.GCThreshold,
		MaxMemoryUsage:       s.MaxMemoryUsage,
	}
}

// ToTransformConfig adapts Streams + format into transform.Config for one
// stream's pipeline.
func (s Streams) ToTransformConfig(format transform.Format) transform.Config {
	return transform.Config{
		Format:                format,
		BatchSize:             s.DefaultBatchSize,
		AdaptiveBatching:      s.AdaptiveStreaming,
		Compression:           s.Compression,
		BackpressureThreshold: s.BackpressureThreshold,
	}
}

// ToExperimentConfig adapts AB into experiment.Config.
func (a AB) ToExperimentConfig() experiment.Config {
	cfg := experiment.DefaultConfig()
	cfg.TrafficAllocation = a.TrafficAllocation
	cfg.SignificanceLevel = a.SignificanceLevel
	cfg.MinimumSampleSize = a.MinimumSampleSize
	cfg.MinimumRunTime = a.MinimumRunTime
	cfg.MaximumRunTime = a.MaximumRunTime
	cfg.EarlyStoppingEnabled = a.EarlyStoppingEnabled
	cfg.EarlyStoppingThreshold = a.EarlyStoppingThreshold
	return cfg
}
