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

package experiment

import (
	"math"
	"time"

	"vectorctl/pkg/vstat"
)

// Analyze runs an interim analysis pass: each non-control variant is
// compared against control via t-test and Mann-Whitney U on the
// configured primary metric, then a winner and recommendation are derived
// (spec §4.H steps 1-4).
func (h *Handle) Analyze(now time.Time) Analysis {
	h.mu.Lock()
	cfg := h.data.Config
	total := h.data.totalParticipants
	snapshots := make([]variantSnapshot, len(h.data.variants))
	for i, v := range h.data.variants {
		snapshots[i] = v.snapshotLocked()
	}
	h.mu.Unlock()

	analysis := Analysis{Timestamp: now, TotalSamples: int(total)}
	control := controlSnapshot(snapshots)
	if control == nil {
		analysis.Recommendation = RecommendCollectMore
		h.storeAnalysis(analysis)
		return analysis
	}

	var best *VariantComparison
	var bestPracticallySig *VariantComparison
	for _, v := range snapshots {
		if v.ID == control.ID {
			continue
		}
		cmp := compareToControl(control, &v, cfg)
		analysis.Comparisons = append(analysis.Comparisons, cmp)

		if cmp.StatisticallySignificant && cmp.PracticallySignificant {
			if best == nil || math.Abs(cmp.RelativeImprovement) > math.Abs(best.RelativeImprovement) {
				c := cmp
				best = &c
			}
		}
		if cmp.PracticallySignificant {
			if bestPracticallySig == nil || math.Abs(cmp.RelativeImprovement) > math.Abs(bestPracticallySig.RelativeImprovement) {
				c := cmp
				bestPracticallySig = &c
			}
		}
	}

	switch {
	case best != nil:
		analysis.Winner = best.VariantID
		analysis.Recommendation = recommendationFor(total, cfg.MinimumSampleSize, RecommendImplement)
	case bestPracticallySig != nil:
		analysis.Winner = bestPracticallySig.VariantID
		analysis.Recommendation = recommendationFor(total, cfg.MinimumSampleSize, RecommendContinue)
	default:
		analysis.Recommendation = recommendationFor(total, cfg.MinimumSampleSize, RecommendContinue)
	}

	h.storeAnalysis(analysis)
	if h.sink != nil {
		h.sink.Emit("analysisCompleted", map[string]any{
			"experimentId":   h.data.ID,
			"winner":         analysis.Winner,
			"recommendation": string(analysis.Recommendation),
		})
	}

	if cfg.AutoPromote && best != nil {
		h.maybePromote(best.VariantID)
	}
	return analysis
}

func (h *Handle) storeAnalysis(a Analysis) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data.lastAnalysis = &a
}

// maybePromote is the auto-promotion supplement: when a statistically and
// practically significant winner is found and the caller has opted into
// AutoPromote, deactivate non-winning variants so future traffic
// concentrates on the winner, grounded on the routing package's
// checkAutoSwitch behavior.
func (h *Handle) maybePromote(winnerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.data.variants {
		v.Active = v.ID == winnerID
	}
	if h.sink != nil {
		h.sink.Emit("variantPromoted", map[string]any{
			"experimentId": h.data.ID,
			"variantId":    winnerID,
		})
	}
}

func recommendationFor(total int64, minSampleSize int, whenEnough Recommendation) Recommendation {
	if total < int64(minSampleSize) {
		return RecommendCollectMore
	}
	return whenEnough
}

// variantSnapshot is a point-in-time, lock-free copy of the fields Analyze
// needs from a Variant: Samples/CustomMetrics are copied (not aliased)
// while h.mu is held, so the analysis pass never races against concurrent
// Execute calls appending to the live Variant.
type variantSnapshot struct {
	ID            string
	IsControl     bool
	Samples       []float64
	CustomMetrics map[string][]float64
}

// snapshotLocked copies v's sample data. Caller must hold the owning
// Handle's mu.
func (v *Variant) snapshotLocked() variantSnapshot {
	samples := append([]float64(nil), v.Samples...)
	customMetrics := make(map[string][]float64, len(v.CustomMetrics))
	for k, s := range v.CustomMetrics {
		customMetrics[k] = append([]float64(nil), s...)
	}
	return variantSnapshot{ID: v.ID, IsControl: v.IsControl, Samples: samples, CustomMetrics: customMetrics}
}

func controlSnapshot(snapshots []variantSnapshot) *variantSnapshot {
	for i := range snapshots {
		if snapshots[i].IsControl {
			return &snapshots[i]
		}
	}
	if len(snapshots) > 0 {
		return &snapshots[0]
	}
	return nil
}

// compareToControl computes the full comparison for one non-control
// variant against control on cfg.PrimaryMetric's raw sample series.
func compareToControl(control, v *variantSnapshot, cfg Config) VariantComparison {
	x := control.samplesFor(cfg.PrimaryMetric)
	y := v.samplesFor(cfg.PrimaryMetric)

	cmp := VariantComparison{VariantID: v.ID}

	tRes, tErr := vstat.WelchOrPooledTTest(x, y)
	mwRes, mwErr := vstat.MannWhitneyU(x, y)
	if tErr == nil {
		cmp.TTestPValue = tRes.PValue
	} else {
		cmp.TTestPValue = 1
	}
	if mwErr == nil {
		cmp.MannWhitneyPValue = mwRes.PValue
	} else {
		cmp.MannWhitneyPValue = 1
	}
	cmp.StatisticallySignificant = tErr == nil && mwErr == nil &&
		cmp.TTestPValue < cfg.SignificanceLevel && cmp.MannWhitneyPValue < cfg.SignificanceLevel

	if dRes, err := vstat.CohensD(x, y); err == nil {
		cmp.CohensD = dRes.D
	}

	controlMean := mean(x)
	treatmentMean := mean(y)
	if controlMean != 0 {
		cmp.RelativeImprovement = (controlMean - treatmentMean) / controlMean
	}

	threshold := cfg.ImprovementThreshold
	if threshold <= 0 {
		threshold = 0.05
	}
	nonNegligible := math.Abs(cmp.CohensD) >= 0.2
	cmp.PracticallySignificant = nonNegligible && math.Abs(cmp.RelativeImprovement) >= threshold
	return cmp
}

func (v *variantSnapshot) samplesFor(metric string) []float64 {
	if metric == "" || metric == "latency" {
		return v.Samples
	}
	if s, ok := v.CustomMetrics[metric]; ok {
		return s
	}
	return v.Samples
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// checkEarlyStopping implements spec §4.H's early-stopping rule: while
// runtime >= MinimumRunTime, stop if any comparison's t-test p-value is
// below EarlyStoppingThreshold; always stop at MaximumRunTime.
func (h *Handle) checkEarlyStopping(now time.Time) {
	h.mu.Lock()
	if h.data.Status != StatusRunning {
		h.mu.Unlock()
		return
	}
	cfg := h.data.Config
	runtime := now.Sub(h.data.StartedAt)
	analysis := h.data.lastAnalysis
	h.mu.Unlock()

	if runtime >= cfg.MaximumRunTime {
		go h.Stop("maximum-run-time-reached")
		return
	}
	if !cfg.EarlyStoppingEnabled || analysis == nil || runtime < cfg.MinimumRunTime {
		return
	}
	threshold := cfg.EarlyStoppingThreshold
	if threshold <= 0 {
		threshold = 0.01
	}
	for _, cmp := range analysis.Comparisons {
		if cmp.TTestPValue < threshold {
			go h.Stop("early-stopping-threshold-reached")
			return
		}
	}
}
