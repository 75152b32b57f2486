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
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"vectorctl/internal/controlplane/ctlerr"
	"vectorctl/internal/controlplane/transform"
)

func feedSource(n, dim int) <-chan transform.Record {
	ch := make(chan transform.Record, n)
	for i := 0; i < n; i++ {
		ch <- transform.Record{ID: fmt.Sprintf("r-%d", i), Vector: make([]float32, dim), Similarity: float32(i)}
	}
	close(ch)
	return ch
}

// TestManager_ScenarioS4 follows spec scenario S4: 1,050 records,
// batchSize=100, json framing, compression off -> exactly 11 batches (last
// of size 50), and the concatenated vectors equal the source.
func TestManager_ScenarioS4(t *testing.T) {
	m := New(DefaultConfig(), nil)
	defer m.Close()

	source := feedSource(1050, 4)
	id, out, err := m.CreateStream(source, Options{Format: transform.FormatJSON, BatchSize: 100})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	var doc []byte
	for f := range out {
		doc = append(doc, f.Bytes...)
	}

	var parsed struct {
		Results []struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
		} `json:"results"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("unmarshal assembled document: %v", err)
	}
	if len(parsed.Results) != 11 {
		t.Fatalf("expected 11 batches, got %d", len(parsed.Results))
	}
	if len(parsed.Results[10].Vectors) != 50 {
		t.Fatalf("expected last batch size 50, got %d", len(parsed.Results[10].Vectors))
	}
	total := 0
	for _, b := range parsed.Results {
		total += len(b.Vectors)
	}
	if total != 1050 {
		t.Fatalf("expected 1050 total records, got %d", total)
	}

	deadline := time.Now().Add(time.Second)
	for {
		s, _ := m.Get(id)
		if s.Status == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream did not reach completed status: %s", s.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestManager_ScenarioS6 follows spec scenario S6: createStream then cancel
// mid-flight results in status=cancelled within <=1s; the producer stops,
// and a repeated cancel is idempotent.
func TestManager_ScenarioS6(t *testing.T) {
	m := New(DefaultConfig(), nil)
	defer m.Close()

	source := make(chan transform.Record)
	id, out, err := m.CreateStream(source, Options{Format: transform.FormatNDJSON, BatchSize: 10})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	stopProducing := make(chan struct{})
	go func() {
		i := 0
		for {
			select {
			case source <- transform.Record{ID: fmt.Sprintf("r-%d", i)}:
				i++
			case <-stopProducing:
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		s, _ := m.Get(id)
		if s.Status == StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream did not cancel within 1s: status=%s", s.Status)
		}
		time.Sleep(time.Millisecond)
	}
	close(stopProducing)

	for range out {
		// drain until producer-side close
	}

	if err := m.Cancel(id); err != nil {
		t.Fatalf("second Cancel should be idempotent, got error: %v", err)
	}
}

func TestManager_TooManyStreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentStreams = 1
	m := New(cfg, nil)
	defer m.Close()

	blocked := make(chan transform.Record)
	_, _, err := m.CreateStream(blocked, Options{})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	_, _, err = m.CreateStream(feedSource(1, 1), Options{})
	if !ctlerr.Is(err, ctlerr.CapacityExceeded) {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
	close(blocked)
}

func TestManager_InvalidInputOnNilSource(t *testing.T) {
	m := New(DefaultConfig(), nil)
	defer m.Close()
	_, _, err := m.CreateStream(nil, Options{})
	if !ctlerr.Is(err, ctlerr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
