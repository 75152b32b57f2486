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

package vstat

import (
	"math"
	"testing"
)

func TestWelchOrPooledTTest_IdenticalSamples(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{1, 2, 3, 4, 5}
	res, err := WelchOrPooledTTest(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Significant {
		t.Fatalf("expected not significant for identical samples, got p=%v", res.PValue)
	}
	if math.Abs(res.Diff) > 1e-9 {
		t.Fatalf("expected zero diff, got %v", res.Diff)
	}
}

func TestWelchOrPooledTTest_ShiftedSamples(t *testing.T) {
	x := make([]float64, 200)
	y := make([]float64, 200)
	sigma := 1.0
	for i := range x {
		x[i] = float64(i%7) * sigma
		y[i] = x[i] + 3*sigma
	}
	res, err := WelchOrPooledTTest(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Significant {
		t.Fatalf("expected significant difference for 3-sigma shift, p=%v", res.PValue)
	}
}

func TestWelchOrPooledTTest_EmptySample(t *testing.T) {
	if _, err := WelchOrPooledTTest(nil, []float64{1}); err != ErrInsufficientSamples {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
}

func TestMannWhitneyU_Basic(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{6, 7, 8, 9, 10}
	res, err := MannWhitneyU(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.U != 0 {
		t.Fatalf("expected U=0 for fully separated samples, got %v", res.U)
	}
	if !res.Significant {
		t.Fatalf("expected significant separation")
	}
}

func TestMannWhitneyU_Ties(t *testing.T) {
	x := []float64{1, 1, 1}
	y := []float64{1, 1, 1}
	res, err := MannWhitneyU(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Significant {
		t.Fatalf("expected no significance for identical tied samples")
	}
}

func TestCohensD_Zero(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	res, err := CohensD(x, x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.D) > 1e-9 {
		t.Fatalf("expected d=0, got %v", res.D)
	}
	if res.Magnitude != Negligible {
		t.Fatalf("expected negligible magnitude, got %v", res.Magnitude)
	}
}

func TestCohensD_ThreeSigmaShift(t *testing.T) {
	x := make([]float64, 500)
	y := make([]float64, 500)
	for i := range x {
		x[i] = float64(i % 11)
	}
	shift := 3 * stddev(x)
	for i := range x {
		y[i] = x[i] + shift
	}
	res, err := CohensD(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(math.Abs(res.D)-3) > 0.5 {
		t.Fatalf("expected |d|~=3, got %v", res.D)
	}
	if res.Magnitude != Large {
		t.Fatalf("expected large magnitude, got %v", res.Magnitude)
	}
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	return math.Sqrt(variance(xs, m))
}

func TestNormalCDF_Monotonic(t *testing.T) {
	prev := NormalCDF(-5)
	for z := -4.0; z <= 5; z += 0.5 {
		cur := NormalCDF(z)
		if cur < prev {
			t.Fatalf("NormalCDF not monotonic at z=%v", z)
		}
		prev = cur
	}
}

func TestNormalCDF_Boundaries(t *testing.T) {
	if v := NormalCDF(0); math.Abs(v-0.5) > 1e-3 {
		t.Fatalf("NormalCDF(0) = %v, want ~0.5", v)
	}
	if v := NormalCDF(-10); v > 1e-3 {
		t.Fatalf("NormalCDF(-10) = %v, want ~0", v)
	}
	if v := NormalCDF(10); v < 1-1e-3 {
		t.Fatalf("NormalCDF(10) = %v, want ~1", v)
	}
}

func TestErf_OddFunction(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 1, 2, 3} {
		if math.Abs(Erf(x)+Erf(-x)) > 1e-6 {
			t.Fatalf("Erf not odd at x=%v", x)
		}
	}
}

func TestPValueOfT_BoundaryAtZero(t *testing.T) {
	p := PValueOfT(0, 30)
	if math.Abs(p-1) > 1e-3 {
		t.Fatalf("PValueOfT(0, 30) = %v, want ~1", p)
	}
}

func TestPValueOfT_LargeTIsSmallP(t *testing.T) {
	p := PValueOfT(10, 30)
	if p > 0.01 {
		t.Fatalf("PValueOfT(10, 30) = %v, want small p-value", p)
	}
}
