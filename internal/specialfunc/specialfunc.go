// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

// Package specialfunc provides the gamma-family functions the Dirichlet
// conjugate-prior math in stats needs: ln-gamma and digamma. Neither the
// teacher nor any other retrieved example repo imports a gamma-function
// library (none ship one beyond stdlib's math.Lgamma), so digamma is
// hand-rolled here atop math.Lgamma using the standard recurrence plus
// asymptotic expansion; this is a documented stdlib exception, not a
// stylistic choice (see DESIGN.md).
package specialfunc

import (
	"math"
	"sync"
)

// LnGamma returns ln(Gamma(x)) for x > 0.
func LnGamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// Digamma returns psi(x), the logarithmic derivative of the Gamma
// function, for x > 0. Small arguments are shifted up via the recurrence
// psi(x) = psi(x+1) - 1/x until the asymptotic expansion is accurate.
func Digamma(x float64) float64 {
	var acc float64
	for x < 6 {
		acc -= 1 / x
		x++
	}
	inv := 1 / x
	inv2 := inv * inv
	acc += math.Log(x) - 0.5*inv
	acc -= inv2 * (1.0/12 - inv2*(1.0/120-inv2*(1.0/252)))
	return acc
}

// cacheLimit bounds the arguments Cache memoizes. Dirichlet concentration
// parameters in goko's domain are observation counts, which stay small
// (spec.md §4.9); values outside this range fall back to the uncached
// computation.
const cacheLimit = 1024

// Cache memoizes LnGamma and Digamma for any argument in [0, cacheLimit),
// so repeated Dirichlet computations over small counts do not recompute
// the Gamma family on every call; other arguments are computed uncached.
type Cache struct {
	mu      sync.Mutex
	lnGamma map[float64]float64
	digamma map[float64]float64
}

// NewCache returns an empty, ready-to-use Cache.
func NewCache() *Cache {
	return &Cache{lnGamma: make(map[float64]float64), digamma: make(map[float64]float64)}
}

// LnGamma returns LnGamma(x), memoized when x falls in the cached range.
func (c *Cache) LnGamma(x float64) float64 {
	if x < 0 || x >= cacheLimit {
		return LnGamma(x)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lnGamma[x]; ok {
		return v
	}
	v := LnGamma(x)
	c.lnGamma[x] = v
	return v
}

// Digamma returns Digamma(x), memoized when x falls in the cached range.
func (c *Cache) Digamma(x float64) float64 {
	if x < 0 || x >= cacheLimit {
		return Digamma(x)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.digamma[x]; ok {
		return v
	}
	v := Digamma(x)
	c.digamma[x] = v
	return v
}
