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

// Package main provides the entry point for the vector-search control
// plane demo application.
//
// This demo wires together all four subsystems described in the design:
// a load-balancing orchestrator dispatching requests across a simulated
// node pool, an auto-scaling controller reacting to synthetic utilization,
// a streaming response manager framing batches of fake search results, and
// an A/B experiment comparing two synthetic backend variants. It exists to
// exercise the wiring end-to-end, not to search real vectors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"vectorctl/internal/controlplane/autoscale"
	"vectorctl/internal/controlplane/config"
	"vectorctl/internal/controlplane/experiment"
	"vectorctl/internal/controlplane/orchestrator"
	"vectorctl/internal/controlplane/registry"
	"vectorctl/internal/controlplane/selector"
	"vectorctl/internal/controlplane/sink"
	"vectorctl/internal/controlplane/stream"
	"vectorctl/internal/controlplane/telemetry"
	"vectorctl/internal/controlplane/transform"
)

func main() {
	algorithm := flag.String("algorithm", "weightedRoundRobin", "load-balancing algorithm")
	nodeCount := flag.Int("nodes", 3, "number of simulated nodes")
	autoScaleMin := flag.Int("autoscale_min", 2, "auto-scaler minimum instance count")
	autoScaleMax := flag.Int("autoscale_max", 8, "auto-scaler maximum instance count")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	redisAddr := flag.String("redis_addr", "", "if non-empty, persist durable events (analysis, stream completion) to this Redis instance")
	runSeconds := flag.Int("run_seconds", 5, "how long to run the simulated workload before shutting down")
	flag.Parse()

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	telemetry.Enable(*metricsAddr != "")
	if *metricsAddr != "" {
		shutdownMetrics := telemetry.ServeMetrics(ctx, *metricsAddr)
		defer shutdownMetrics(context.Background())
		fmt.Printf("metrics listening on %s\n", *metricsAddr)
	}

	var eventSink registry.EventSink = noopSink{}
	if *redisAddr != "" {
		client := sink.NewGoRedisEvaler(*redisAddr)
		rs := sink.NewRedisSink(ctx, client, 24*time.Hour)
		rs.SetErrorHandler(func(err error) { log.Printf("sink error: %v", err) })
		eventSink = rs
	}

	reg := registry.New(30*time.Second, eventSink)
	for i := 0; i < *nodeCount; i++ {
		id := fmt.Sprintf("node-%d", i)
		weight := int64(1)
		if i == *nodeCount-1 {
			weight = 2
		}
		if err := reg.AddNode(id, registry.Config{Weight: weight, Capacity: 100}); err != nil {
			log.Fatalf("AddNode(%s): %v", id, err)
		}
	}

	orch := orchestrator.New(reg, simulatedBackend{}, orchestrator.Config{
		Algorithm:       selector.Algorithm(*algorithm),
		SessionAffinity: true,
	}, eventSink)

	scaleCfg := config.Default().AutoScale
	scaleCfg.Min = *autoScaleMin
	scaleCfg.Max = *autoScaleMax
	scaleCfg.EvalPeriod = time.Second
	scaleCfg.Cooldown = 2 * time.Second
	scaler := autoscale.New(scaleCfg, demoProvisioner{}, autoscale.WrapRegistrySink(eventSink))
	scaler.Start()
	defer scaler.Stop()

	streamMgr := stream.New(stream.DefaultConfig(), eventSink)
	defer streamMgr.Close()

	exp := experiment.New("latency-experiment", "demo backend comparison", experiment.DefaultConfig())
	_ = exp.AddVariant("control", "control", nil, "impl-control", true)
	_ = exp.AddVariant("treatment", "treatment", nil, "impl-treatment", false)
	exp.SetSink(eventSink)
	if err := exp.Start(); err != nil {
		log.Fatalf("experiment Start: %v", err)
	}

	fmt.Printf("dispatching simulated traffic for %ds across %d nodes (algorithm=%s)\n", *runSeconds, *nodeCount, *algorithm)
	runWorkload(ctx, orch, scaler, streamMgr, exp, time.Duration(*runSeconds)*time.Second)

	orch.Shutdown(time.Second)
	if analysis, err := exp.Stop("demo complete"); err == nil {
		fmt.Printf("experiment winner=%q recommendation=%s\n", analysis.Winner, analysis.Recommendation)
	}
	fmt.Println("vectorctl-demo shut down cleanly")
}

func runWorkload(ctx context.Context, orch *orchestrator.Orchestrator, scaler *autoscale.Controller, streamMgr *stream.Manager, exp *experiment.Handle, duration time.Duration) {
	deadline := time.Now().Add(duration)
	rng := rand.New(rand.NewSource(1))

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, _ = orch.Dispatch(ctx, orchestrator.Request{
			ParticipantID: fmt.Sprintf("user-%d", rng.Intn(50)),
			SessionID:     fmt.Sprintf("session-%d", rng.Intn(10)),
			Type:          "search",
			DataSize:      int64(rng.Intn(2 << 20)),
			Deadline:      time.Now().Add(500 * time.Millisecond),
		})

		scaler.RecordMetrics(60+rng.Float64()*40, 40+rng.Float64()*30, 1000, 20, time.Now())

		if rng.Intn(20) == 0 {
			source := demoRecordSource(rng.Intn(500) + 50)
			if _, out, err := streamMgr.CreateStream(source, stream.Options{Format: transform.FormatNDJSON, BatchSize: 50}); err == nil {
				go func() {
					for range out {
					}
				}()
			}
		}

		_, _ = exp.Execute(ctx, fmt.Sprintf("participant-%d", rng.Intn(200)), demoRunner{rng: rng})
		time.Sleep(5 * time.Millisecond)
	}
}

func demoRecordSource(n int) chan transform.Record {
	ch := make(chan transform.Record, n)
	for i := 0; i < n; i++ {
		ch <- transform.Record{ID: fmt.Sprintf("rec-%d", i), Vector: []float32{0, 1, 2, 3}, Similarity: float32(i) / float32(n)}
	}
	close(ch)
	return ch
}

type simulatedBackend struct{}

func (simulatedBackend) Process(ctx context.Context, node registry.Node, req orchestrator.Request) (any, error) {
	select {
	case <-time.After(time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return "ok", nil
}

type demoProvisioner struct{}

func (demoProvisioner) Provision(id string) error    { return nil }
func (demoProvisioner) Decommission(id string) error { return nil }

type demoRunner struct{ rng *rand.Rand }

func (d demoRunner) Run(ctx context.Context, v experiment.Variant) (any, error) {
	latency := 90 * time.Millisecond
	if v.IsControl {
		latency = 100 * time.Millisecond
	}
	jitter := time.Duration(d.rng.Intn(10)) * time.Millisecond
	time.Sleep(latency/50 + jitter/50) // scaled down so the demo finishes quickly
	return "ok", nil
}

type noopSink struct{}

func (noopSink) Emit(event string, fields map[string]any) {}
