// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
)

// scaleBias shifts the signed scale index into an unsigned 9-bit field.
// A scale index in [-64, 447] maps onto [0, 511].
const scaleBias = 64

// scaleBits is the width of the scale field; pointBits the rest of the word.
const (
	scaleBits = 9
	pointBits = 64 - scaleBits
	pointMask = (uint64(1) << pointBits) - 1
)

// MinScaleIndex and MaxScaleIndex bound the legal scale range a NodeAddress
// can encode (9 bits biased by +64 admits [-64, 447], both inclusive).
const (
	MinScaleIndex = -64
	MaxScaleIndex = (1 << scaleBits) - 1 - scaleBias // 447
)

// MaxPointIndex is the largest point index a NodeAddress can encode (2^55 - 1).
const MaxPointIndex = pointMask

// singletonWord is the reserved all-ones 64-bit pattern denoting the
// distinguished "singleton" child slot in a Dirichlet tracker.
const singletonWord = ^uint64(0)

// NodeAddress is a bit-packed (scale, point-index) identifier.
//
// The low pointBits bits hold the point index; the high scaleBits bits hold
// the scale index biased by +64. A single reserved value (all bits one)
// denotes "singleton" — the distinguished child slot meaning "observation
// terminates here" rather than a legitimate node. No legitimate node may
// use that value; NewNodeAddress rejects the (scale, point) pair that would
// produce it.
type NodeAddress uint64

// SingletonAddress is the sentinel NodeAddress used as the distinguished
// child key for "observation terminates here" in a Dirichlet tracker.
const SingletonAddress NodeAddress = NodeAddress(singletonWord)

// NewNodeAddress packs a scale index and point index into a NodeAddress.
//
// Returns an error if scale is outside [MinScaleIndex, MaxScaleIndex], if
// point exceeds MaxPointIndex, or if the pair happens to collide with the
// reserved singleton sentinel.
func NewNodeAddress(scale int, point uint64) (NodeAddress, error) {
	if scale < MinScaleIndex || scale > MaxScaleIndex {
		return 0, fmt.Errorf("%w: scale %d out of [%d, %d]", ErrInvalidScale, scale, MinScaleIndex, MaxScaleIndex)
	}
	if point > MaxPointIndex {
		return 0, fmt.Errorf("%w: point index %d exceeds %d", ErrInvalidPointIndex, point, uint64(MaxPointIndex))
	}

	biased := uint64(scale + scaleBias)
	word := (biased << pointBits) | (point & pointMask)
	if word == singletonWord {
		return 0, fmt.Errorf("%w: (scale=%d, point=%d) collides with the singleton sentinel", ErrReservedAddress, scale, point)
	}
	return NodeAddress(word), nil
}

// IsSingleton reports whether a is the reserved singleton sentinel.
func (a NodeAddress) IsSingleton() bool {
	return a == SingletonAddress
}

// Scale returns the signed scale index encoded in a.
//
// Calling Scale on the singleton sentinel returns MaxScaleIndex and is
// meaningless; callers must check IsSingleton first.
func (a NodeAddress) Scale() int {
	biased := int(uint64(a) >> pointBits)
	return biased - scaleBias
}

// PointIndex returns the point index encoded in a.
func (a NodeAddress) PointIndex() uint64 {
	return uint64(a) & pointMask
}

// Less provides a total, deterministic ordering over NodeAddress values:
// by scale ascending, then by point index ascending. This is the ordering
// used for deterministic tie-breaks in query heaps and for stable
// persistence ordering.
func (a NodeAddress) Less(b NodeAddress) bool {
	if a.IsSingleton() || b.IsSingleton() {
		return uint64(a) < uint64(b)
	}
	as, bs := a.Scale(), b.Scale()
	if as != bs {
		return as < bs
	}
	return a.PointIndex() < b.PointIndex()
}

// String renders a human-readable form, e.g. "addr(scale=-3, point=42)" or
// "addr(singleton)".
func (a NodeAddress) String() string {
	if a.IsSingleton() {
		return "addr(singleton)"
	}
	return fmt.Sprintf("addr(scale=%d, point=%d)", a.Scale(), a.PointIndex())
}

// scaleIndexForRadius computes ceil(log_b(radius)) for the builder's
// "next scale index" computation (spec.md §4.2 step 1). Returns
// MinScaleIndex if radius <= 0 (degenerate single-point clusters).
func scaleIndexForRadius(radius float64, base float64) int {
	if radius <= 0 {
		return MinScaleIndex
	}
	return int(math.Ceil(math.Log(radius) / math.Log(base)))
}
