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

package sink

import (
	"context"
	"testing"
)

// fakeRedis models a minimal in-memory Redis: SETNX-then-SET semantics
// keyed by the marker key, matching idempotentSetScript's behavior.
type fakeRedis struct {
	markers   map[string]bool
	snapshots map[string]string
	evalCount int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{markers: map[string]bool{}, snapshots: map[string]string{}}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.evalCount++
	snapshotKey, markerKey := keys[0], keys[1]
	payload := args[0].(string)
	if f.markers[markerKey] {
		return int64(0), nil
	}
	f.markers[markerKey] = true
	f.snapshots[snapshotKey] = payload
	return int64(1), nil
}

func TestRedisSink_PersistsDurableEvents(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisSink(context.Background(), client, 0)

	s.Emit("streamFinished", map[string]any{"streamId": "s1", "status": "completed"})
	if len(client.snapshots) != 1 {
		t.Fatalf("expected one snapshot persisted, got %d", len(client.snapshots))
	}
}

func TestRedisSink_IgnoresNonDurableEvents(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisSink(context.Background(), client, 0)

	s.Emit("backPressure", map[string]any{"queued": 10})
	if client.evalCount != 0 {
		t.Fatalf("expected no Eval calls for a non-durable event, got %d", client.evalCount)
	}
}

func TestRedisSink_IdempotentOnRepeatedEmit(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisSink(context.Background(), client, 0)

	fields := map[string]any{"experimentId": "exp-1", "winner": "treatment"}
	s.Emit("analysisCompleted", fields)
	s.Emit("analysisCompleted", fields)

	if client.evalCount != 2 {
		t.Fatalf("expected 2 Eval attempts, got %d", client.evalCount)
	}
	if len(client.snapshots) != 1 {
		t.Fatalf("expected exactly one snapshot stored despite repeated emit, got %d", len(client.snapshots))
	}
}

func TestRedisSink_ReportsErrors(t *testing.T) {
	client := &erroringRedis{}
	s := NewRedisSink(context.Background(), client, 0)
	var gotErr error
	s.SetErrorHandler(func(err error) { gotErr = err })

	s.Emit("streamFinished", map[string]any{"streamId": "s1"})
	if gotErr == nil {
		t.Fatalf("expected error to be reported")
	}
}

type erroringRedis struct{}

func (erroringRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return nil, context.DeadlineExceeded
}
