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

// Package telemetry exposes Prometheus metrics for the control plane.
// Grounded on the teacher's telemetry/churn package: a small set of global
// counters/gauges/histograms registered once, with all public functions
// safe no-ops when disabled. Unlike the teacher's sampled, opt-in churn
// telemetry, the control plane's dispatch path is already rate-bounded by
// node count, so every event is recorded rather than sampled.
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled atomic.Bool

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorctl_requests_total",
		Help: "Total dispatched requests by outcome (success/failure).",
	}, []string{"outcome"})

	requestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vectorctl_request_latency_ms",
		Help:    "Dispatch latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	breakerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorctl_breaker_transitions_total",
		Help: "Circuit breaker state transitions by node and new state.",
	}, []string{"node", "state"})

	scalingActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorctl_scaling_actions_total",
		Help: "Auto-scaler actions by reason (scale-up/scale-down/cooldown).",
	}, []string{"reason"})

	instancesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vectorctl_instances",
		Help: "Current managed instance count.",
	})

	activeStreamsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vectorctl_active_streams",
		Help: "Current number of active streaming responses.",
	})

	backPressureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vectorctl_backpressure_events_total",
		Help: "Total back-pressure events observed by the transform pipeline.",
	})

	experimentSamplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectorctl_experiment_samples_total",
		Help: "Total samples recorded per experiment/variant.",
	}, []string{"experiment", "variant"})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestLatency,
		breakerTransitionsTotal,
		scalingActionsTotal,
		instancesGauge,
		activeStreamsGauge,
		backPressureTotal,
		experimentSamplesTotal,
	)
}

// Enable turns metric recording on or off; disabled by default so tests and
// embedders that don't want a global registry touched can opt out.
func Enable(on bool) { enabled.Store(on) }

// Enabled reports whether telemetry recording is active.
func Enabled() bool { return enabled.Load() }

// ObserveDispatch records one dispatch outcome and its latency.
func ObserveDispatch(success bool, latencyMs float64) {
	if !enabled.Load() {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	requestLatency.Observe(latencyMs)
}

// ObserveBreakerTransition records a circuit breaker state change.
func ObserveBreakerTransition(nodeID, state string) {
	if !enabled.Load() {
		return
	}
	breakerTransitionsTotal.WithLabelValues(nodeID, state).Inc()
}

// ObserveScalingAction records an auto-scaler decision and the resulting
// instance count.
func ObserveScalingAction(reason string, instanceCount int) {
	if !enabled.Load() {
		return
	}
	scalingActionsTotal.WithLabelValues(reason).Inc()
	instancesGauge.Set(float64(instanceCount))
}

// SetActiveStreams publishes the current active stream count.
func SetActiveStreams(n int) {
	if !enabled.Load() {
		return
	}
	activeStreamsGauge.Set(float64(n))
}

// ObserveBackPressure records one back-pressure event.
func ObserveBackPressure() {
	if !enabled.Load() {
		return
	}
	backPressureTotal.Inc()
}

// ObserveExperimentSample records one recorded sample for a variant.
func ObserveExperimentSample(experimentID, variantID string) {
	if !enabled.Load() {
		return
	}
	experimentSamplesTotal.WithLabelValues(experimentID, variantID).Inc()
}

// ServeMetrics starts a dedicated /metrics HTTP server on addr, grounded on
// the teacher's startMetricsEndpoint. It returns once the server has been
// launched in the background; call Shutdown via the returned function (or
// let ctx cancellation tear it down) during process shutdown.
func ServeMetrics(ctx context.Context, addr string) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server.Shutdown
}
