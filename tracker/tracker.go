// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

// Package tracker implements online drift/attack detection over streams of
// query traces: a Bayesian categorical tracker accumulates evidence of
// which nodes a sequence of queries routes through and compares it, per
// node and for the whole tree, against each node's installed Dirichlet
// prior via KL divergence (spec.md §4.9 "Bayesian tracking", grounded on
// plugins/discrete/tracker.rs).
package tracker

import (
	"fmt"
	"math"

	"github.com/goko-project/goko"
	"github.com/goko-project/goko/internal/specialfunc"
	"github.com/goko-project/goko/stats"
)

// BayesCovertree accumulates a sliding window of routing traces and
// compares the resulting per-node evidence against each node's installed
// Dirichlet prior.
type BayesCovertree struct {
	tree              *goko.Tree
	evidence          map[goko.NodeAddress]*stats.Categorical
	sequenceQueue     [][]goko.PathStep
	sequenceCount     int
	windowSize        int
	priorWeight       float64
	observationWeight float64
	cache             *specialfunc.Cache
}

// New returns an empty tracker over tree. windowSize == 0 means unlimited:
// every trace ever added stays folded into the running evidence. priorWeight
// and observationWeight rescale the node prior and each observation's
// contribution respectively (spec.md §4.9).
func New(tree *goko.Tree, priorWeight, observationWeight float64, windowSize int) *BayesCovertree {
	return &BayesCovertree{
		tree:              tree,
		evidence:          make(map[goko.NodeAddress]*stats.Categorical),
		windowSize:        windowSize,
		priorWeight:       priorWeight,
		observationWeight: observationWeight,
		cache:             specialfunc.NewCache(),
	}
}

// Append merges other's running evidence and sequence history into t.
func (t *BayesCovertree) Append(other *BayesCovertree) {
	for addr, c := range other.evidence {
		if existing, ok := t.evidence[addr]; ok {
			c.Range(func(key uint64, count float64) { existing.AddPop(key, count) })
		} else {
			merged := stats.NewCategorical()
			c.Range(func(key uint64, count float64) { merged.AddPop(key, count) })
			t.evidence[addr] = merged
		}
	}
	t.sequenceQueue = append(t.sequenceQueue, other.sequenceQueue...)
	t.sequenceCount += other.sequenceCount
}

// AddPath folds a routing trace (as returned by Tree.Path or Tree.KnownPath)
// into the running evidence, evicting the oldest trace once the sliding
// window is full.
func (t *BayesCovertree) AddPath(trace []goko.PathStep) {
	t.addTrace(trace, 1)
	t.sequenceCount++
	if t.windowSize == 0 {
		return
	}
	t.sequenceQueue = append(t.sequenceQueue, trace)
	if len(t.sequenceQueue) > t.windowSize {
		oldest := t.sequenceQueue[0]
		t.sequenceQueue = t.sequenceQueue[1:]
		t.addTrace(oldest, -1)
	}
}

// addTrace folds (sign=1) or unfolds (sign=-1) a trace's parent-child
// routing steps, plus a final singleton-terminated observation, into the
// running evidence (spec.md §4.9, grounded on add_trace_to_pdfs /
// remove_trace_from_pdfs in tracker.rs).
func (t *BayesCovertree) addTrace(trace []goko.PathStep, sign float64) {
	if len(trace) == 0 {
		return
	}
	w := sign * t.observationWeight
	for i := 0; i < len(trace)-1; i++ {
		parent, child := trace[i].Address, trace[i+1].Address
		t.pop(parent, uint64(child), w)
	}
	last := trace[len(trace)-1].Address
	t.pop(last, stats.SingletonKey, w)
}

func (t *BayesCovertree) pop(addr goko.NodeAddress, key uint64, w float64) {
	c, ok := t.evidence[addr]
	if !ok {
		c = stats.NewCategorical()
		t.evidence[addr] = c
	}
	if w >= 0 {
		c.AddPop(key, w)
	} else {
		c.RemovePop(key, -w)
	}
}

// SequenceLen returns the number of traces currently contributing to the
// running evidence: the window length once it has filled, otherwise the
// running count.
func (t *BayesCovertree) SequenceLen() int {
	if len(t.sequenceQueue) == 0 {
		return t.sequenceCount
	}
	return len(t.sequenceQueue)
}

// priorDistro reads addr's installed Dirichlet prior and rescales it:
// first, when window_size is non-zero and the prior's total mass exceeds
// it, scaled to a total mass of window_size * ln(total); then multiplied
// by priorWeight (spec.md §4.9, grounded on get_distro in tracker.rs).
func (t *BayesCovertree) priorDistro(addr goko.NodeAddress) (*stats.Dirichlet, error) {
	n, ok := t.tree.Node(addr)
	if !ok {
		return nil, fmt.Errorf("tracker: node %v not found", addr)
	}
	plugin, ok := n.Plugin(goko.PluginDirichlet)
	if !ok {
		return nil, fmt.Errorf("tracker: %w: dirichlet not installed on %v", goko.ErrPluginNotInstalled, addr)
	}
	prior := plugin.(*stats.Dirichlet).Clone()
	total := prior.Total()
	if total > float64(t.windowSize) && t.windowSize > 0 {
		prior.Weight(math.Log(total) * float64(t.windowSize) / total)
	}
	prior.Weight(t.priorWeight)
	return prior, nil
}

// NodeKL returns KL(prior || posterior) at addr, where posterior is addr's
// rescaled prior with the running evidence folded in — the per-node
// "surprise" a drifting query stream has introduced relative to the tree's
// static structure (spec.md §4.9, grounded on posterior_kl_divergence in
// stats_plugins/dirichlet.rs: since untouched buckets contribute zero to
// the closed-form sum, this is exactly Dirichlet.KLDivergence(prior,
// prior-plus-evidence) rather than an approximation).
func (t *BayesCovertree) NodeKL(addr goko.NodeAddress) (float64, error) {
	prior, err := t.priorDistro(addr)
	if err != nil {
		return 0, err
	}
	posterior := prior.Clone()
	if e, ok := t.evidence[addr]; ok {
		e.Range(func(key uint64, count float64) { posterior.AddChildPop(key, count) })
	}
	return prior.KLDivergence(posterior), nil
}

// AllNodeKL returns NodeKL for every node touched by the running evidence.
func (t *BayesCovertree) AllNodeKL() (map[goko.NodeAddress]float64, error) {
	out := make(map[goko.NodeAddress]float64, len(t.evidence))
	for addr := range t.evidence {
		kl, err := t.NodeKL(addr)
		if err != nil {
			return nil, err
		}
		out[addr] = kl
	}
	return out, nil
}

// evidenceDirichlet converts addr's running evidence into a Dirichlet
// counts object suitable as the "data" argument of MarginalLnLikelihood,
// or an empty one if addr has no evidence yet.
func (t *BayesCovertree) evidenceDirichlet(addr goko.NodeAddress) *stats.Dirichlet {
	data := stats.NewDirichlet()
	if e, ok := t.evidence[addr]; ok {
		e.Range(func(key uint64, count float64) { data.AddChildPop(key, count) })
	}
	return data
}

// NodeMLL returns the marginal log-likelihood of addr's running evidence
// under its rescaled structural prior (spec.md §4.6 "marginal_ln_likelihood",
// §4.9 "nodes_mll").
func (t *BayesCovertree) NodeMLL(addr goko.NodeAddress) (float64, error) {
	prior, err := t.priorDistro(addr)
	if err != nil {
		return 0, err
	}
	return prior.MarginalLnLikelihood(t.evidenceDirichlet(addr)), nil
}

// NodeAIC returns 2*|support| - NodeMLL(addr), the per-node Akaike score
// (spec.md §4.6 "marginal_aic", §4.9 "nodes_aic").
func (t *BayesCovertree) NodeAIC(addr goko.NodeAddress) (float64, error) {
	prior, err := t.priorDistro(addr)
	if err != nil {
		return 0, err
	}
	return prior.MarginalAIC(t.evidenceDirichlet(addr)), nil
}

// AllNodeMLL returns NodeMLL for every node touched by the running evidence.
func (t *BayesCovertree) AllNodeMLL() (map[goko.NodeAddress]float64, error) {
	out := make(map[goko.NodeAddress]float64, len(t.evidence))
	for addr := range t.evidence {
		mll, err := t.NodeMLL(addr)
		if err != nil {
			return nil, err
		}
		out[addr] = mll
	}
	return out, nil
}

// AllNodeAIC returns NodeAIC for every node touched by the running evidence.
func (t *BayesCovertree) AllNodeAIC() (map[goko.NodeAddress]float64, error) {
	out := make(map[goko.NodeAddress]float64, len(t.evidence))
	for addr := range t.evidence {
		aic, err := t.NodeAIC(addr)
		if err != nil {
			return nil, err
		}
		out[addr] = aic
	}
	return out, nil
}

// FieldStats packs max/min/count/first-moment/second-moment of the
// non-negligible (> 1e-10) subset of a per-node metric across the tree, so
// downstream consumers can derive running mean/variance (spec.md §4.9).
type FieldStats struct {
	Max       float64
	Min       float64
	NZCount   int
	Moment1NZ float64
	Moment2NZ float64
}

const klZeroThreshold = 1e-10

// accumulateFieldStats folds values into a FieldStats, skipping values at
// or below klZeroThreshold.
func accumulateFieldStats(values map[goko.NodeAddress]float64) FieldStats {
	s := FieldStats{Max: math.Inf(-1), Min: math.Inf(1)}
	for _, v := range values {
		if v <= klZeroThreshold {
			continue
		}
		s.Moment1NZ += v
		s.Moment2NZ += v * v
		if v > s.Max {
			s.Max = v
		}
		if v < s.Min {
			s.Min = v
		}
		s.NZCount++
	}
	if s.NZCount == 0 {
		s.Max, s.Min = 0, 0
	}
	return s
}

// KLDivergenceStats summarizes a tracker's per-node and overall drift
// signals for the current evidence window (spec.md §4.9 "Exposed
// aggregates"): nodes_kl_div/nodes_mll/nodes_aic are FieldStats over every
// touched node, overall_kl_div/overall_mll/marginal_aic are the
// whole-tree scalars.
type KLDivergenceStats struct {
	NodesKLDiv FieldStats
	NodesMLL   FieldStats
	NodesAIC   FieldStats

	OverallKLDiv float64
	OverallMLL   float64
	MarginalAIC  float64

	SequenceLen int
}

// Stats computes KLDivergenceStats over every node touched by the running
// evidence (spec.md §4.9, grounded on kl_div_stats in tracker.rs).
func (t *BayesCovertree) Stats() (KLDivergenceStats, error) {
	kl, err := t.AllNodeKL()
	if err != nil {
		return KLDivergenceStats{}, err
	}
	mll, err := t.AllNodeMLL()
	if err != nil {
		return KLDivergenceStats{}, err
	}
	aic, err := t.AllNodeAIC()
	if err != nil {
		return KLDivergenceStats{}, err
	}

	return KLDivergenceStats{
		NodesKLDiv:   accumulateFieldStats(kl),
		NodesMLL:     accumulateFieldStats(mll),
		NodesAIC:     accumulateFieldStats(aic),
		OverallKLDiv: t.KLDiv(),
		OverallMLL:   t.OverallMLL(),
		MarginalAIC:  t.MarginalAIC(),
		SequenceLen:  t.SequenceLen(),
	}, nil
}

// KLDiv computes the KL divergence between the prior and posterior of the
// whole tree's singleton-attachment process, bypassing each node's
// installed Dirichlet plugin entirely in favor of the raw singleton count
// as prior (spec.md §4.9, grounded on kl_div in tracker.rs): a coarser,
// cheaper, plugin-independent drift signal.
func (t *BayesCovertree) KLDiv() float64 {
	summary := t.tree.Summary()
	priorTotal := float64(summary.PointCount) + float64(summary.NodeCount)
	posteriorTotal := priorTotal + float64(t.SequenceLen())

	var priorTotalLnG, posteriorTotalLnG, digammaPortion float64
	for addr, c := range t.evidence {
		singletonCount, ok := t.lookupSingletonPop(c)
		if !ok {
			continue
		}
		n, ok := t.tree.Node(addr)
		if !ok {
			continue
		}
		prior := float64(len(n.Singletons)) + 1
		priorTotalLnG += t.cache.LnGamma(prior)
		posteriorTotalLnG += t.cache.LnGamma(singletonCount + prior)
		digammaPortion += singletonCount * (t.cache.Digamma(singletonCount+prior) - t.cache.Digamma(posteriorTotal))
	}

	kld := t.cache.LnGamma(posteriorTotal) - posteriorTotalLnG - t.cache.LnGamma(priorTotal) + priorTotalLnG + digammaPortion
	if kld < 0 {
		return 0
	}
	return kld
}

// OverallMLL computes the marginal log-likelihood of the whole tree's
// singleton-attachment process, the overall-tracker counterpart to KLDiv
// (spec.md §4.9 "overall_mll"): same prior/posterior totals as KLDiv, but
// folded through the marginal_ln_likelihood formula instead of KL.
func (t *BayesCovertree) OverallMLL() float64 {
	summary := t.tree.Summary()
	priorTotal := float64(summary.PointCount) + float64(summary.NodeCount)
	n := float64(t.SequenceLen())

	mll := t.cache.LnGamma(priorTotal) + t.cache.LnGamma(n+1) - t.cache.LnGamma(n+priorTotal)
	for addr, c := range t.evidence {
		singletonCount, ok := t.lookupSingletonPop(c)
		if !ok {
			continue
		}
		nd, ok := t.tree.Node(addr)
		if !ok {
			continue
		}
		alpha := float64(len(nd.Singletons)) + 1
		mll += t.cache.LnGamma(alpha+singletonCount) - t.cache.LnGamma(alpha) - t.cache.LnGamma(singletonCount+1)
	}
	return mll
}

// MarginalAIC returns 2*|support| - OverallMLL(), the overall-tracker
// Akaike score (spec.md §4.9 "marginal_aic"), where support is the set of
// nodes touched by the running evidence.
func (t *BayesCovertree) MarginalAIC() float64 {
	return 2*float64(len(t.evidence)) - t.OverallMLL()
}

// lookupSingletonPop reports whether c has any mass in the singleton
// bucket, and that mass's value, matching tracker.rs's guard
// "evidence.singleton_count > 0.0" (the original's Categorical carries a
// distinguished singleton field; ours keys it through stats.SingletonKey).
func (t *BayesCovertree) lookupSingletonPop(c *stats.Categorical) (float64, bool) {
	var v float64
	var found bool
	c.Range(func(key uint64, count float64) {
		if key == stats.SingletonKey && count > 0 {
			v, found = count, true
		}
	})
	return v, found
}
