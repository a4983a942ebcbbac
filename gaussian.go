// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
	"math/rand"
)

// VectorCloud is an optional PointCloud capability: a dense float32
// coordinate vector per point. The Gaussian plugin (spec.md §4.9
// supplemented feature, grounded on diag_gaussian.rs) needs raw
// coordinates, which the metric-only PointCloud contract does not
// generally provide, so it is an opt-in extension rather than part of
// PointCloud itself.
type VectorCloud interface {
	PointCloud
	Vector(i uint64) ([]float32, error)
}

// DiagGaussian is a per-node diagonal-covariance Gaussian summary, tracked
// as running first and second moments so it can be updated incrementally
// and merged across children without revisiting underlying points.
type DiagGaussian struct {
	Moment1 []float64
	Moment2 []float64
	Count   uint64
}

// NewDiagGaussian returns an empty DiagGaussian over the given dimension.
func NewDiagGaussian(dim int) *DiagGaussian {
	return &DiagGaussian{Moment1: make([]float64, dim), Moment2: make([]float64, dim)}
}

// Dim returns the dimension this Gaussian summarizes.
func (g *DiagGaussian) Dim() int { return len(g.Moment1) }

// AddPoint folds v's coordinates into the running moments.
func (g *DiagGaussian) AddPoint(v []float32) {
	for i, x := range v {
		g.Moment1[i] += float64(x)
		g.Moment2[i] += float64(x) * float64(x)
	}
	g.Count++
}

// Merge folds other's moments into g, for combining a routing node's
// children into its own recursive summary.
func (g *DiagGaussian) Merge(other *DiagGaussian) {
	for i := range g.Moment1 {
		g.Moment1[i] += other.Moment1[i]
		g.Moment2[i] += other.Moment2[i]
	}
	g.Count += other.Count
}

// Mean returns the per-dimension sample mean, moment1/count.
func (g *DiagGaussian) Mean() []float64 {
	mean := make([]float64, len(g.Moment1))
	if g.Count == 0 {
		return mean
	}
	c := float64(g.Count)
	for i, m := range g.Moment1 {
		mean[i] = m / c
	}
	return mean
}

// Var returns the per-dimension sample variance, moment2/count - mean^2.
func (g *DiagGaussian) Var() []float64 {
	variance := make([]float64, len(g.Moment1))
	if g.Count == 0 {
		return variance
	}
	c := float64(g.Count)
	for i := range g.Moment1 {
		mean := g.Moment1[i] / c
		variance[i] = g.Moment2[i]/c - mean*mean
	}
	return variance
}

// LnPDF returns the log-density of point under g's diagonal Gaussian, or
// false if g has no mass or point's dimension does not match.
func (g *DiagGaussian) LnPDF(point []float32) (float64, bool) {
	if g.Count == 0 || len(point) != len(g.Moment1) {
		return 0, false
	}
	mean, variance := g.Mean(), g.Var()
	var quad, lnDet float64
	for i, x := range point {
		v := variance[i]
		if v <= 0 {
			continue
		}
		d := float64(x) - mean[i]
		quad += d * d / v
		lnDet += math.Log(v)
	}
	return -0.5 * (quad + lnDet + float64(len(point))*math.Log(2*math.Pi)), true
}

// Sample draws a dense coordinate vector from g's diagonal Gaussian.
func (g *DiagGaussian) Sample(rng *rand.Rand) []float32 {
	mean, variance := g.Mean(), g.Var()
	out := make([]float32, len(mean))
	for i := range out {
		out[i] = float32(mean[i] + math.Sqrt(variance[i])*rng.NormFloat64())
	}
	return out
}

// KLDivergence computes KL(g || other) between two diagonal Gaussians,
// summed per dimension: 0.5 * (varG/varOther + (meanOther-meanG)^2/varOther
// - 1 + ln(varOther/varG)).
func (g *DiagGaussian) KLDivergence(other *DiagGaussian) (float64, bool) {
	if g.Count == 0 || other.Count == 0 || len(g.Moment1) != len(other.Moment1) {
		return 0, false
	}
	mean, variance := g.Mean(), g.Var()
	oMean, oVar := other.Mean(), other.Var()

	var sum float64
	for i := range mean {
		if variance[i] <= 0 || oVar[i] <= 0 {
			continue
		}
		diff := oMean[i] - mean[i]
		sum += variance[i]/oVar[i] + diff*diff/oVar[i] - 1 + math.Log(oVar[i]/variance[i])
	}
	return 0.5 * sum, true
}

// installGaussian computes n's DiagGaussian bottom-up: n's singletons, plus
// n's own center when n is a leaf that does not already list it as a
// singleton, merged with its children's summaries (spec.md §4.9
// "recursive" Gaussian variant, grounded on GokoDiagGaussian::recursive in
// diag_gaussian.rs). Each covered point is counted once, so the root's
// Count equals its CoverageCount.
func installGaussian(cloud VectorCloud, n *CoverNode, childSummary func(NodeAddress) (*DiagGaussian, error)) (*DiagGaussian, error) {
	center, err := cloud.Vector(n.Address.PointIndex())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
	}
	g := NewDiagGaussian(len(center))

	if n.IsLeaf() && !n.HasSingleton(n.Address.PointIndex()) {
		g.AddPoint(center)
	}
	for _, s := range n.Singletons {
		v, err := cloud.Vector(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
		}
		g.AddPoint(v)
	}

	for _, child := range n.Children {
		cg, err := childSummary(child)
		if err != nil {
			return nil, err
		}
		g.Merge(cg)
	}
	return g, nil
}
