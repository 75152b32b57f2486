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

// Package experiment implements the A/B testing framework: variant
// assignment with sticky participants, per-variant sample collection, and
// interim statistical analysis against a control (spec §4.H). Variant
// assignment is grounded on the routing package's consistent-hash split
// (other_examples ExperimentEngine.AssignVariant), generalized from
// weighted SHA-256 buckets to the spec's uniform MD5-hash assignment.
package experiment

import "time"

// Status is the lifecycle state of an Experiment.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// VariantConfig carries caller-defined configuration for a variant; the
// core treats it as opaque (spec §6 Backend boundary philosophy).
type VariantConfig any

// Variant is the spec §3 ExperimentVariant type.
type Variant struct {
	ID                string
	Name              string
	Config            VariantConfig
	ImplementationRef string
	IsControl         bool

	Participants int64
	Conversions  int64
	Samples      []float64
	CustomMetrics map[string][]float64

	StartedAt time.Time
	Active    bool
}

// Config holds experiment-wide tunables; defaults per spec §8.
type Config struct {
	TrafficAllocation      float64
	SignificanceLevel      float64
	ImprovementThreshold   float64
	MinimumSampleSize      int
	MinimumRunTime         time.Duration
	MaximumRunTime         time.Duration
	EarlyStoppingEnabled   bool
	EarlyStoppingThreshold float64
	PrimaryMetric          string
	AnalysisInterval       time.Duration
	AutoPromote            bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		TrafficAllocation:      1.0,
		SignificanceLevel:      0.05,
		ImprovementThreshold:   0.05,
		MinimumSampleSize:      100,
		MinimumRunTime:         24 * time.Hour,
		MaximumRunTime:         30 * 24 * time.Hour,
		EarlyStoppingEnabled:   true,
		EarlyStoppingThreshold: 0.01,
		PrimaryMetric:          "latency",
		AnalysisInterval:       time.Hour,
	}
}

// Recommendation is the interim-analysis action suggestion.
type Recommendation string

const (
	RecommendImplement  Recommendation = "implement"
	RecommendContinue   Recommendation = "continue"
	RecommendCollectMore Recommendation = "collect-more"
)

// VariantComparison is one non-control variant's comparison to control.
type VariantComparison struct {
	VariantID          string
	TTestPValue        float64
	MannWhitneyPValue  float64
	StatisticallySignificant bool
	CohensD            float64
	RelativeImprovement float64
	PracticallySignificant bool
}

// Analysis is the result of an interim or final analysis pass.
type Analysis struct {
	Timestamp      time.Time
	Comparisons    []VariantComparison
	Winner         string
	Recommendation Recommendation
	TotalSamples   int
}

