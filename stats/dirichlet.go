// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package stats

import (
	"math"
	"math/rand"
	"sort"

	"github.com/goko-project/goko/internal/specialfunc"
)

// Dirichlet is a Dirichlet/Categorical conjugate-prior concentration
// vector over a node's children plus the singleton bucket (spec.md
// §4.9): each bucket's count is a concentration parameter alpha_i.
type Dirichlet struct {
	counts map[uint64]float64
	cache  *specialfunc.Cache
}

// NewDirichlet returns an empty Dirichlet backed by a fresh special
// function cache.
func NewDirichlet() *Dirichlet {
	return &Dirichlet{counts: make(map[uint64]float64), cache: specialfunc.NewCache()}
}

// Clone returns a deep copy sharing d's special-function cache (the
// cache holds no mutable per-instance state beyond its own memoization).
func (d *Dirichlet) Clone() *Dirichlet {
	c := &Dirichlet{counts: make(map[uint64]float64, len(d.counts)), cache: d.cache}
	for k, v := range d.counts {
		c.counts[k] = v
	}
	return c
}

// Total returns the sum of every bucket's concentration parameter.
func (d *Dirichlet) Total() float64 {
	var total float64
	for _, v := range d.counts {
		total += v
	}
	return total
}

// Weight multiplies every concentration parameter by w, used to rescale
// a node's prior against a tracker's window size before combining it
// with observed evidence (spec.md §4.9).
func (d *Dirichlet) Weight(w float64) {
	for k := range d.counts {
		d.counts[k] *= w
	}
}

// AddChildPop adds count to key's concentration parameter.
func (d *Dirichlet) AddChildPop(key uint64, count float64) {
	if d.counts == nil {
		d.counts = make(map[uint64]float64)
	}
	d.counts[key] += count
}

// RemoveChildPop subtracts count from key's concentration parameter,
// floored at zero.
func (d *Dirichlet) RemoveChildPop(key uint64, count float64) {
	cur := d.counts[key]
	if cur < count {
		d.counts[key] = 0
		return
	}
	d.counts[key] = cur - count
}

// AddObservation records a single observation routed to key.
func (d *Dirichlet) AddObservation(key uint64) { d.AddChildPop(key, 1) }

// LnProb returns ln P(key) under the point estimate alpha_key / total,
// or false if the distribution is empty.
func (d *Dirichlet) LnProb(key uint64) (float64, bool) {
	total := d.Total()
	if total <= 0 {
		return 0, false
	}
	return math.Log(d.counts[key]) - math.Log(total), true
}

// KLDivergence computes KL(d || other) between two Dirichlet posteriors
// sharing the same support, using the closed-form conjugate-prior
// formula (Kurt, "KL divergence between two Dirichlet and Beta
// distributions"). Negative results from floating-point error are
// clamped to zero.
func (d *Dirichlet) KLDivergence(other *Dirichlet) float64 {
	myTotal := d.Total()
	var otherTotal, myTotalLnG, otherTotalLnG, digammaPortion float64

	for key, count := range d.counts {
		oc := other.counts[key]
		otherTotal += oc
		if count > 0 {
			myTotalLnG += d.cache.LnGamma(count)
			otherTotalLnG += d.cache.LnGamma(oc)
			digammaPortion += (count - oc) * (d.cache.Digamma(count) - d.cache.Digamma(myTotal))
		}
	}

	kld := d.cache.LnGamma(myTotal) - myTotalLnG - d.cache.LnGamma(otherTotal) + otherTotalLnG + digammaPortion
	if kld < 0 {
		return 0
	}
	return kld
}

// MarginalLnLikelihood returns the log marginal likelihood of data under
// d's Dirichlet-multinomial prior (spec.md §4.6):
//
//	lnΓ(A) + lnΓ(N+1) − lnΓ(N+A) + Σ_a [ lnΓ(α_a+n_a) − lnΓ(α_a) − lnΓ(n_a+1) ]
//
// where A = d.Total(), N = data.Total(). Buckets with non-positive
// concentration contribute nothing, mirroring KLDivergence's treatment of
// zero-count keys.
func (d *Dirichlet) MarginalLnLikelihood(data *Dirichlet) float64 {
	total := d.Total()
	n := data.Total()
	mll := d.cache.LnGamma(total) + d.cache.LnGamma(n+1) - d.cache.LnGamma(n+total)
	for key, alpha := range d.counts {
		if alpha <= 0 {
			continue
		}
		na := data.counts[key]
		mll += d.cache.LnGamma(alpha+na) - d.cache.LnGamma(alpha) - d.cache.LnGamma(na+1)
	}
	return mll
}

// MarginalAIC returns 2*|support| - MarginalLnLikelihood(data), an
// Akaike-information-criterion score over d's support size (spec.md
// §4.6 "marginal_aic").
func (d *Dirichlet) MarginalAIC(data *Dirichlet) float64 {
	return 2*float64(len(d.counts)) - d.MarginalLnLikelihood(data)
}

// sortedKeys returns d's bucket keys in ascending order, for deterministic
// iteration during sampling.
func (d *Dirichlet) sortedKeys() []uint64 {
	keys := make([]uint64, 0, len(d.counts))
	for k := range d.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Sample draws a key with probability proportional to its concentration
// parameter, for use as a tree's generative routing policy (spec.md
// §4.5 "Sampling"). Returns SingletonKey if d has no mass.
func (d *Dirichlet) Sample(rng *rand.Rand) uint64 {
	total := d.Total()
	if total <= 0 {
		return SingletonKey
	}
	r := rng.Float64() * total
	var acc float64
	keys := d.sortedKeys()
	for _, k := range keys {
		acc += d.counts[k]
		if r < acc {
			return k
		}
	}
	return keys[len(keys)-1]
}
