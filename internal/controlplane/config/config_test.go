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

package config

import (
	"testing"

	"vectorctl/internal/controlplane/transform"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	opts := Default()
	if opts.Streams.DefaultBatchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", opts.Streams.DefaultBatchSize)
	}
	if opts.AB.SignificanceLevel != 0.05 {
		t.Fatalf("expected default significance level 0.05, got %v", opts.AB.SignificanceLevel)
	}
	if opts.AutoScale.TargetCPU != 70 {
		t.Fatalf("expected default target cpu 70, got %v", opts.AutoScale.TargetCPU)
	}
}

func TestToTransformConfig_CarriesFormat(t *testing.T) {
	opts := Default()
	cfg := opts.Streams.ToTransformConfig(transform.FormatBinary)
	if cfg.Format != transform.FormatBinary {
		t.Fatalf("expected binary format, got %s", cfg.Format)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("expected batch size 100, got %d", cfg.BatchSize)
	}
}
