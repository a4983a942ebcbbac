// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

// Package stats implements the closed-form discrete distribution math
// tracker.BayesCovertree tracks observations with: a frequentist
// Categorical for raw evidence accumulation, and a Dirichlet conjugate
// prior for the posterior KL divergence comparison. Both are keyed by an
// opaque uint64 (a tree node address's bit pattern, or SingletonKey) so
// this package has no dependency on the root goko package.
package stats

import (
	"math"
	"sort"
)

// SingletonKey is the reserved key denoting "observation terminates
// here" rather than routing into a child. Its bit pattern matches
// goko.SingletonAddress so callers can pass a NodeAddress's underlying
// uint64 directly as a key.
const SingletonKey = ^uint64(0)

// Categorical is a frequentist probability mass function over a node's
// children plus the singleton bucket, accumulated as raw observation
// counts rather than concentration parameters.
type Categorical struct {
	counts map[uint64]float64
}

// NewCategorical returns an empty Categorical.
func NewCategorical() *Categorical {
	return &Categorical{counts: make(map[uint64]float64)}
}

// Total returns the sum of every bucket's count.
func (c *Categorical) Total() float64 {
	var total float64
	for _, v := range c.counts {
		total += v
	}
	return total
}

// AddPop adds count to key's bucket.
func (c *Categorical) AddPop(key uint64, count float64) {
	if c.counts == nil {
		c.counts = make(map[uint64]float64)
	}
	c.counts[key] += count
}

// RemovePop subtracts count from key's bucket, floored at zero.
func (c *Categorical) RemovePop(key uint64, count float64) {
	cur := c.counts[key]
	if cur < count {
		c.counts[key] = 0
		return
	}
	c.counts[key] = cur - count
}

// Range calls fn for every bucket with positive count, in ascending key
// order (a deterministic order, unlike Go's native map iteration).
func (c *Categorical) Range(fn func(key uint64, count float64)) {
	keys := make([]uint64, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if c.counts[k] <= 0 {
			continue
		}
		fn(k, c.counts[k])
	}
}

// LnProb returns ln P(key), or false if the distribution has no mass.
func (c *Categorical) LnProb(key uint64) (float64, bool) {
	total := c.Total()
	if total <= 0 {
		return 0, false
	}
	return math.Log(c.counts[key]) - math.Log(total), true
}

// KLMode selects how KLDivergenceMode treats a support mismatch between
// the two distributions (spec.md §4.6 "KL divergence supports both
// strict-support ... and weak").
type KLMode int

const (
	// KLWeak errors only when a positive-mass key of c maps to zero (or
	// is absent) in other; other may carry extra keys c has no mass on.
	KLWeak KLMode = iota
	// KLStrict additionally errors whenever the two distributions'
	// supports differ at all, including when other has positive-mass
	// keys c lacks.
	KLStrict
)

// KLDivergence computes KL(c || other) in KLWeak mode: see
// KLDivergenceMode.
func (c *Categorical) KLDivergence(other *Categorical) (float64, bool) {
	return c.KLDivergenceMode(other, KLWeak)
}

// positiveSupportSize counts c's positive-mass buckets.
func (c *Categorical) positiveSupportSize() int {
	n := 0
	for _, v := range c.counts {
		if v > 0 {
			n++
		}
	}
	return n
}

// KLDivergenceMode computes KL(c || other). Returns false if either side
// has no mass, or if c puts mass on a key other does not (c's support
// must be a subset of other's). In KLStrict mode, also returns false if
// other's positive-mass support is larger than c's — i.e. the two
// supports must be exactly equal, not merely c-subset-of-other.
func (c *Categorical) KLDivergenceMode(other *Categorical, mode KLMode) (float64, bool) {
	myTotal, otherTotal := c.Total(), other.Total()
	if myTotal <= 0 || otherTotal <= 0 {
		return 0, false
	}
	if mode == KLStrict && c.positiveSupportSize() != other.positiveSupportSize() {
		return 0, false
	}
	lnTotalRatio := math.Log(myTotal) - math.Log(otherTotal)

	var sum float64
	for key, count := range c.counts {
		if count <= 0 {
			continue
		}
		oc := other.counts[key]
		if oc <= 0 {
			return 0, false
		}
		sum += (count / myTotal) * (math.Log(count) - math.Log(oc) - lnTotalRatio)
	}
	return sum, true
}
