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

// Package sink provides an optional durable EventSink backed by Redis, for
// persisting experiment snapshots and stream completion markers outside
// process memory. Grounded on the teacher's persistence.RedisPersister: an
// Eval-based Lua script applies an idempotent write, guarded by a SETNX
// marker with a bounded TTL (persistence/redis.go).
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RedisEvaler abstracts the minimal surface needed from a Redis client,
// matching the teacher's persistence.RedisEvaler so either a real
// github.com/redis/go-redis/v9 client or a test double can be supplied.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisSink persists a bounded set of "durable" event kinds (those in
// DurableEvents) to Redis, skipping everything else. Each event is
// persisted at most once per (event, idempotencyKey) pair.
type RedisSink struct {
	client    RedisEvaler
	markerTTL time.Duration
	ctx       context.Context
	onError   func(error)
}

// DurableEvents lists the event names this sink persists; all other Emit
// calls are no-ops so hot-path events (e.g. backPressure) never hit Redis.
var DurableEvents = map[string]bool{
	"analysisCompleted": true,
	"experimentStopped": true,
	"streamFinished":    true,
	"scalingCompleted":  true,
}

// NewRedisSink returns a sink writing through client, with markerTTL
// guarding idempotency-marker growth (defaults to 24h, as in the teacher).
func NewRedisSink(ctx context.Context, client RedisEvaler, markerTTL time.Duration) *RedisSink {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisSink{client: client, markerTTL: markerTTL, ctx: ctx}
}

// idempotentSetScript SETs snapshotKey only if markerKey is new, then
// EXPIREs the marker. Returns 1 if applied, 0 if this event was already
// recorded (e.g. a retried Emit after a transient network error).
const idempotentSetScript = `
local snapshotKey = KEYS[1]
local markerKey = KEYS[2]
local payload = ARGV[1]
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('SET', snapshotKey, payload)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

// Emit persists event to Redis when it is a durable kind; all other events
// are dropped. Errors are not returned (Emit has no error return in the
// shared Sink interfaces the core packages use) but are recoverable by the
// caller via SetErrorHandler.
func (s *RedisSink) Emit(event string, fields map[string]any) {
	if !DurableEvents[event] {
		return
	}
	idempotencyKey := idempotencyKeyFor(event, fields, time.Now())
	payload, err := json.Marshal(fields)
	if err != nil {
		s.reportError(fmt.Errorf("sink: marshal event %s: %w", event, err))
		return
	}

	snapshotKey := fmt.Sprintf("vectorctl:event:%s:%s", event, idempotencyKey)
	markerKey := fmt.Sprintf("vectorctl:marker:%s:%s", event, idempotencyKey)
	keys := []string{snapshotKey, markerKey}
	args := []interface{}{string(payload), int(s.markerTTL.Seconds())}

	if _, err := s.client.Eval(s.ctx, idempotentSetScript, keys, args...); err != nil {
		s.reportError(fmt.Errorf("sink: eval event %s: %w", event, err))
	}
}

func (s *RedisSink) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// SetErrorHandler lets callers observe delivery failures without changing
// the Emit(event, fields) signature shared across sinks.
func (s *RedisSink) SetErrorHandler(fn func(error)) { s.onError = fn }

// idempotencyKeyFor derives the per-event dedup key. Events carrying an
// identifying field (experimentId/streamId/nodeId) dedup on that field
// (plus an embedded timestamp field, if present). Events with none of
// those fields (e.g. scalingCompleted, which only carries before/after/
// reason) fall back to the Emit call's wall-clock time: without it, two
// distinct scaling actions with identical before/after/reason values would
// hash to the same key and the second would be silently dropped.
func idempotencyKeyFor(event string, fields map[string]any, now time.Time) string {
	for _, k := range []string{"experimentId", "streamId", "nodeId"} {
		if v, ok := fields[k]; ok {
			if ts, ok := fields["timestamp"]; ok {
				return fmt.Sprintf("%v-%v", v, ts)
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%v-%d", fields, now.UnixNano())
}
