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

// Package vstat provides the pure, deterministic statistical kernel used to
// compare experiment variants: a pooled-variance t-test, the Mann-Whitney U
// rank test, Cohen's d effect size, and the numeric approximations (normal
// CDF, erf, Student's t p-value) they are built on. Every function here is
// side-effect-free and operates on finite in-memory sample slices.
package vstat

import (
	"errors"
	"math"
	"sort"
)

// ErrInsufficientSamples is returned when a test is asked to compare an
// empty sample.
var ErrInsufficientSamples = errors.New("insufficient_samples")

// TTestResult is the result of a two-sample t-test.
type TTestResult struct {
	Mean1, Mean2 float64
	Diff         float64
	T            float64
	DF           float64
	PValue       float64
	Significant  bool
	CI95Low      float64
	CI95High     float64
}

// WelchOrPooledTTest runs a pooled-variance two-sample t-test (df = n1+n2-2).
// The source this package is modeled on uses the pooled variant even when
// sample variances differ; we preserve that choice (see DESIGN.md), so the
// "Welch" half of the name only documents the open question, not a branch
// in behavior.
func WelchOrPooledTTest(x, y []float64) (TTestResult, error) {
	if len(x) == 0 || len(y) == 0 {
		return TTestResult{}, ErrInsufficientSamples
	}
	n1, n2 := float64(len(x)), float64(len(y))
	m1, m2 := mean(x), mean(y)
	v1, v2 := variance(x, m1), variance(y, m2)

	df := n1 + n2 - 2
	pooledVar := ((n1-1)*v1 + (n2-1)*v2) / df
	se := math.Sqrt(pooledVar*(1/n1+1/n2))

	diff := m1 - m2
	var t float64
	if se > 0 {
		t = diff / se
	}
	p := PValueOfT(t, df)

	// 95% CI for the mean difference using a normal approximation to the
	// critical value; adequate given the documented ±1e-3 precision budget.
	tCrit := 1.96
	margin := tCrit * se
	return TTestResult{
		Mean1:       m1,
		Mean2:       m2,
		Diff:        diff,
		T:           t,
		DF:          df,
		PValue:      p,
		Significant: p < 0.05,
		CI95Low:     diff - margin,
		CI95High:    diff + margin,
	}, nil
}

// MannWhitneyResult is the result of a Mann-Whitney U test.
type MannWhitneyResult struct {
	U           float64
	Z           float64
	PValue      float64
	Significant bool
}

// MannWhitneyU computes the rank-sum U statistic with average ranks for
// ties and a normal approximation. The continuity correction is omitted for
// every sample size, including n<20, to keep the function simple.
func MannWhitneyU(x, y []float64) (MannWhitneyResult, error) {
	if len(x) == 0 || len(y) == 0 {
		return MannWhitneyResult{}, ErrInsufficientSamples
	}
	n1, n2 := len(x), len(y)
	combined := make([]struct {
		val  float64
		grp  int
	}, 0, n1+n2)
	for _, v := range x {
		combined = append(combined, struct {
			val float64
			grp int
		}{v, 0})
	}
	for _, v := range y {
		combined = append(combined, struct {
			val float64
			grp int
		}{v, 1})
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].val < combined[j].val })

	ranks := make([]float64, len(combined))
	i := 0
	for i < len(combined) {
		j := i
		for j+1 < len(combined) && combined[j+1].val == combined[i].val {
			j++
		}
		// Ties [i, j] share the average rank (1-indexed).
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[k] = avgRank
		}
		i = j + 1
	}

	var rankSum1 float64
	for idx, c := range combined {
		if c.grp == 0 {
			rankSum1 += ranks[idx]
		}
	}
	fn1, fn2 := float64(n1), float64(n2)
	u1 := rankSum1 - fn1*(fn1+1)/2
	u2 := fn1*fn2 - u1
	u := math.Min(u1, u2)

	meanU := fn1 * fn2 / 2
	stdU := math.Sqrt(fn1 * fn2 * (fn1 + fn2 + 1) / 12)
	var z float64
	if stdU > 0 {
		z = (u - meanU) / stdU
	}
	p := 2 * NormalCDF(-math.Abs(z))
	return MannWhitneyResult{U: u, Z: z, PValue: p, Significant: p < 0.05}, nil
}

// EffectMagnitude classifies Cohen's d per the conventional thresholds.
type EffectMagnitude string

const (
	Negligible EffectMagnitude = "negligible"
	Small      EffectMagnitude = "small"
	Medium     EffectMagnitude = "medium"
	Large      EffectMagnitude = "large"
)

// CohensDResult is the result of a Cohen's d effect-size computation.
type CohensDResult struct {
	D         float64
	Magnitude EffectMagnitude
}

// CohensD computes Cohen's d using the pooled standard deviation of x and y.
func CohensD(x, y []float64) (CohensDResult, error) {
	if len(x) == 0 || len(y) == 0 {
		return CohensDResult{}, ErrInsufficientSamples
	}
	n1, n2 := float64(len(x)), float64(len(y))
	m1, m2 := mean(x), mean(y)
	v1, v2 := variance(x, m1), variance(y, m2)
	pooledSD := math.Sqrt(((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2))

	var d float64
	if pooledSD > 0 {
		d = (m1 - m2) / pooledSD
	}
	return CohensDResult{D: d, Magnitude: magnitudeOf(d)}, nil
}

func magnitudeOf(d float64) EffectMagnitude {
	ad := math.Abs(d)
	switch {
	case ad >= 0.8:
		return Large
	case ad >= 0.5:
		return Medium
	case ad >= 0.2:
		return Small
	default:
		return Negligible
	}
}

// PValueOfT approximates the two-tailed p-value of a t statistic with df
// degrees of freedom as the regularized incomplete beta function
// I_{df/(df+t^2)}(df/2, 1/2), evaluated by continued fraction for every df
// (there is no separate normal approximation for large df). Precision target: absolute error
// <= 1e-3 over tested ranges (tests assert monotonicity/boundary values,
// not exact digits, per spec).
func PValueOfT(t, df float64) float64 {
	if df <= 0 {
		return 1
	}
	x := df / (df + t*t)
	ib := incompleteBeta(x, df/2, 0.5)
	// Two-tailed p-value from the regularized incomplete beta function.
	p := ib
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// NormalCDF approximates the standard normal cumulative distribution
// function via the error function.
func NormalCDF(z float64) float64 {
	return 0.5 * (1 + Erf(z/math.Sqrt2))
}

// Erf approximates the Gauss error function using the Abramowitz & Stegun
// 7.1.26 rational approximation (max absolute error ~1.5e-7, well within
// the 1e-3 budget).
func Erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// incompleteBeta evaluates the regularized incomplete beta function I_x(a,b)
// via a continued-fraction expansion (Numerical Recipes betacf), used by
// PValueOfT to obtain the Student's-t two-tailed p-value.
func incompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lbeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lbeta + a*math.Log(x) + b*math.Log(1-x))
	var cf float64
	if x < (a+1)/(a+b+2) {
		cf = betacf(x, a, b) / a
	} else {
		return 1 - front*betacf(1-x, b, a)/b
	}
	return front * cf
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// betacf is the continued-fraction evaluator for the incomplete beta
// function (Lentz's algorithm), standard numerical-recipes form.
func betacf(x, a, b float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-12
		fpmin   = 1e-300
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func mean(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func variance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}
