// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package tracker

import (
	"math"
	"math/rand"
	"sort"

	"github.com/goko-project/goko"
)

// DirichletBaseline trains an expected KL-divergence-by-sequence-length
// curve by replaying random known paths through the tree with a fresh
// tracker, so a caller can later judge whether an observed KLDivergenceStats
// value at a given sequence length is anomalous relative to this baseline
// (spec.md §4.9, grounded on baseline.rs). This baseline is not realistic:
// it samples uniformly from the training set rather than from a live
// query distribution.
type DirichletBaseline struct {
	SampleRate        int
	SequenceLen       int
	NumSequences      int
	PriorWeight       float64
	ObservationWeight float64
}

// NewDirichletBaseline returns a DirichletBaseline with the package's
// default parameters (sample every 100th step, 8 sequences, unit prior and
// observation weight, sequence length defaulting to the cloud's size).
func NewDirichletBaseline() DirichletBaseline {
	return DirichletBaseline{SampleRate: 100, NumSequences: 8, PriorWeight: 1.0, ObservationWeight: 1.0}
}

// Train samples NumSequences independent random orderings of the tree's
// points (each of length SequenceLen, or the cloud's full size if zero),
// replays each through a fresh zero-window tracker, and records
// KLDivergenceStats every SampleRate-th step. The per-sequence-length
// results are averaged across sequences into a KLDivergenceBaseline.
func (b DirichletBaseline) Train(tree *goko.Tree, rng *rand.Rand) (*KLDivergenceBaseline, error) {
	seqLen := b.SequenceLen
	if seqLen == 0 {
		seqLen = int(tree.Cloud().Len())
	}
	sampleRate := b.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1
	}

	results := make([][]KLDivergenceStats, b.NumSequences)
	nodeStats := make(map[goko.NodeAddress]*nodeExtremes)
	for s := 0; s < b.NumSequences; s++ {
		order := rng.Perm(int(tree.Cloud().Len()))
		if seqLen < len(order) {
			order = order[:seqLen]
		}

		tr := New(tree, b.PriorWeight, b.ObservationWeight, 0)
		var seq []KLDivergenceStats
		for i, pi := range order {
			path, err := tree.KnownPath(uint64(pi))
			if err != nil {
				return nil, err
			}
			tr.AddPath(path)
			if i%sampleRate == 0 {
				st, err := tr.Stats()
				if err != nil {
					return nil, err
				}
				seq = append(seq, st)

				kl, err := tr.AllNodeKL()
				if err != nil {
					return nil, err
				}
				mll, err := tr.AllNodeMLL()
				if err != nil {
					return nil, err
				}
				for addr := range kl {
					ns, ok := nodeStats[addr]
					if !ok {
						ns = newNodeExtremes()
						nodeStats[addr] = ns
					}
					ns.add(kl[addr], mll[addr])
				}
			}
		}
		results[s] = seq
	}

	n := len(results[0])
	sequenceLen := make([]int, n)
	stats := make([]KLDivergenceBaselineStats, n)
	for i := 0; i < n; i++ {
		for _, seq := range results {
			stats[i].add(seq[i])
		}
		sequenceLen[i] = results[0][i].SequenceLen
	}

	return &KLDivergenceBaseline{
		NumSequences: len(results),
		SequenceLen:  sequenceLen,
		stats:        stats,
		nodeStats:    nodeStats,
	}, nil
}

// momentPair holds a (sum, sum-of-squares) accumulator across the
// NumSequences independent training runs, from which mean and variance
// are derived on demand.
type momentPair struct {
	sum, sumSq float64
}

func (m *momentPair) add(v float64) {
	m.sum += v
	m.sumSq += v * v
}

func (m momentPair) meanVar(count float64) (mean, variance float64) {
	mean = m.sum / count
	variance = m.sumSq/count - mean*mean
	return mean, variance
}

func (m momentPair) interpolate(other momentPair, w float64) momentPair {
	return momentPair{
		sum:   m.sum + w*(other.sum-m.sum),
		sumSq: m.sumSq + w*(other.sumSq-m.sumSq),
	}
}

// fieldMoments is a FieldStats resolved to per-field momentPair
// accumulators across independent training sequences.
type fieldMoments struct {
	max, min, nzCount, moment1NZ, moment2NZ momentPair
}

func (m *fieldMoments) add(f FieldStats) {
	m.max.add(f.Max)
	m.min.add(f.Min)
	m.nzCount.add(float64(f.NZCount))
	m.moment1NZ.add(f.Moment1NZ)
	m.moment2NZ.add(f.Moment2NZ)
}

func (m fieldMoments) toMeanVar(count float64) MeanVarStats {
	var out MeanVarStats
	out.Max[0], out.Max[1] = m.max.meanVar(count)
	out.Min[0], out.Min[1] = m.min.meanVar(count)
	out.NZCount[0], out.NZCount[1] = m.nzCount.meanVar(count)
	out.Moment1NZ[0], out.Moment1NZ[1] = m.moment1NZ.meanVar(count)
	out.Moment2NZ[0], out.Moment2NZ[1] = m.moment2NZ.meanVar(count)
	return out
}

// KLDivergenceBaselineStats accumulates max/min/nz_count/moment1/moment2
// across independent training sequences for every exposed tracker field
// (kl_div, mll, aic), stored as raw (sum, sumSq) moment pairs so
// mean/variance can be derived with any sequence count.
type KLDivergenceBaselineStats struct {
	nodesKLDiv, nodesMLL, nodesAIC fieldMoments
	overallKLDiv, overallMLL, marginalAIC momentPair
}

func (s *KLDivergenceBaselineStats) add(stats KLDivergenceStats) {
	s.nodesKLDiv.add(stats.NodesKLDiv)
	s.nodesMLL.add(stats.NodesMLL)
	s.nodesAIC.add(stats.NodesAIC)
	s.overallKLDiv.add(stats.OverallKLDiv)
	s.overallMLL.add(stats.OverallMLL)
	s.marginalAIC.add(stats.MarginalAIC)
}

// MeanVarStats is a fieldMoments accumulator resolved to a concrete
// mean/variance pair per field, for a specific sequence count.
type MeanVarStats struct {
	Max       [2]float64
	Min       [2]float64
	NZCount   [2]float64
	Moment1NZ [2]float64
	Moment2NZ [2]float64
}

// BaselineStats is a KLDivergenceBaselineStats resolved to concrete
// mean/variance estimates, mirroring KLDivergenceStats's shape.
type BaselineStats struct {
	NodesKLDiv MeanVarStats
	NodesMLL   MeanVarStats
	NodesAIC   MeanVarStats

	OverallKLDiv [2]float64
	OverallMLL   [2]float64
	MarginalAIC  [2]float64
}

func (s KLDivergenceBaselineStats) toMeanVar(count float64) BaselineStats {
	var out BaselineStats
	out.NodesKLDiv = s.nodesKLDiv.toMeanVar(count)
	out.NodesMLL = s.nodesMLL.toMeanVar(count)
	out.NodesAIC = s.nodesAIC.toMeanVar(count)
	out.OverallKLDiv[0], out.OverallKLDiv[1] = s.overallKLDiv.meanVar(count)
	out.OverallMLL[0], out.OverallMLL[1] = s.overallMLL.meanVar(count)
	out.MarginalAIC[0], out.MarginalAIC[1] = s.marginalAIC.meanVar(count)
	return out
}

func lerp2(x, y [2]float64, w float64) [2]float64 {
	return [2]float64{x[0] + w*(y[0]-x[0]), x[1] + w*(y[1]-x[1])}
}

func (a MeanVarStats) interpolate(b MeanVarStats, w float64) MeanVarStats {
	return MeanVarStats{
		Max:       lerp2(a.Max, b.Max, w),
		Min:       lerp2(a.Min, b.Min, w),
		NZCount:   lerp2(a.NZCount, b.NZCount, w),
		Moment1NZ: lerp2(a.Moment1NZ, b.Moment1NZ, w),
		Moment2NZ: lerp2(a.Moment2NZ, b.Moment2NZ, w),
	}
}

func (a BaselineStats) interpolate(b BaselineStats, w float64) BaselineStats {
	return BaselineStats{
		NodesKLDiv:   a.NodesKLDiv.interpolate(b.NodesKLDiv, w),
		NodesMLL:     a.NodesMLL.interpolate(b.NodesMLL, w),
		NodesAIC:     a.NodesAIC.interpolate(b.NodesAIC, w),
		OverallKLDiv: lerp2(a.OverallKLDiv, b.OverallKLDiv, w),
		OverallMLL:   lerp2(a.OverallMLL, b.OverallMLL, w),
		MarginalAIC:  lerp2(a.MarginalAIC, b.MarginalAIC, w),
	}
}

// extremePair tracks the two largest and two smallest values seen in a
// stream, so a leave-one-out max/min (excluding one specific occurrence)
// can be recomputed in O(1) without rescanning the stream (spec.md §4.8
// "top-2 extremes per field").
type extremePair struct {
	max1, max2 float64
	min1, min2 float64
}

func newExtremePair() extremePair {
	return extremePair{
		max1: math.Inf(-1), max2: math.Inf(-1),
		min1: math.Inf(1), min2: math.Inf(1),
	}
}

func (e *extremePair) add(v float64) {
	switch {
	case v > e.max1:
		e.max2, e.max1 = e.max1, v
	case v > e.max2:
		e.max2 = v
	}
	switch {
	case v < e.min1:
		e.min2, e.min1 = e.min1, v
	case v < e.min2:
		e.min2 = v
	}
}

// looMax returns the maximum of every value added to e except one
// occurrence equal to v (the snapshot being left out).
func (e extremePair) looMax(v float64) float64 {
	if v == e.max1 {
		return e.max2
	}
	return e.max1
}

// looMin is looMax's minimum counterpart.
func (e extremePair) looMin(v float64) float64 {
	if v == e.min1 {
		return e.min2
	}
	return e.min1
}

// nodeExtremes accumulates top-2-extremes for a single node's kl_div and
// mll snapshot streams during baseline training, plus how many snapshots
// have touched it (spec.md §4.8 "Violation detection").
type nodeExtremes struct {
	klDiv extremePair
	mll   extremePair
	count int
}

func newNodeExtremes() *nodeExtremes {
	return &nodeExtremes{klDiv: newExtremePair(), mll: newExtremePair()}
}

func (n *nodeExtremes) add(klDiv, mll float64) {
	n.klDiv.add(klDiv)
	n.mll.add(mll)
	n.count++
}

// KLDivergenceBaseline holds the trained, per-sequence-length expected
// KL-divergence-stats curve. Stats(i) is a mean/variance estimate at any
// sequence length from the first trained one on, linearly interpolated (or
// extrapolated past the last trained point) between the nearest trained
// sequence lengths; below the first trained length it is the zero value.
type KLDivergenceBaseline struct {
	NumSequences int
	SequenceLen  []int

	stats     []KLDivergenceBaselineStats
	nodeStats map[goko.NodeAddress]*nodeExtremes
}

// Violator reports whether node's (klDiv, mll) snapshot is anomalous
// relative to the leave-one-out max/min of every other training snapshot
// recorded for that node: it exceeds the LOO maximum kl_div, or falls
// below the LOO minimum mll (spec.md §4.8 "Violation detection"). The
// second return value is false if node was observed in at most one
// training snapshot, in which case no leave-one-out baseline exists and
// the first return value is meaningless.
func (b *KLDivergenceBaseline) Violator(node goko.NodeAddress, klDiv, mll float64) (violator, observed bool) {
	ns, ok := b.nodeStats[node]
	if !ok || ns.count <= 1 {
		return false, false
	}
	return klDiv > ns.klDiv.looMax(klDiv) || mll < ns.mll.looMin(mll), true
}

// Stats returns the baseline's mean/variance estimate at sequence length i,
// exact if i was sampled during training, otherwise linearly interpolated
// between the two nearest trained lengths (or extrapolated from the last
// two if i exceeds every trained length). It returns the zero BaselineStats
// if i is below every trained length.
func (b *KLDivergenceBaseline) Stats(i int) BaselineStats {
	count := float64(b.NumSequences)
	idx := sort.SearchInts(b.SequenceLen, i)

	if idx < len(b.SequenceLen) && b.SequenceLen[idx] == i {
		return b.stats[idx].toMeanVar(count)
	}
	if idx == 0 {
		return BaselineStats{}
	}
	if idx == len(b.SequenceLen) {
		s1 := b.stats[idx-2].toMeanVar(count)
		s2 := b.stats[idx-1].toMeanVar(count)
		w := float64(i-b.SequenceLen[idx-2]) / float64(b.SequenceLen[idx-1]-b.SequenceLen[idx-2])
		return s1.interpolate(s2, w)
	}
	s1 := b.stats[idx-1].toMeanVar(count)
	s2 := b.stats[idx].toMeanVar(count)
	w := float64(i-b.SequenceLen[idx-1]) / float64(b.SequenceLen[idx]-b.SequenceLen[idx-1])
	return s1.interpolate(s2, w)
}
