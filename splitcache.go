// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
	"math/rand"
)

// PartitionType selects how a covered set is split into a nested child
// plus zero or more split-off children (spec.md §4.1).
type PartitionType int

const (
	// PartitionFirst centers are picked at random (from the split's RNG)
	// among the remaining uncovered points; all points within the target
	// radius attach, and the process repeats on what's left.
	PartitionFirst PartitionType = iota

	// PartitionNearest greedily picks centers until every point is within
	// radius of some center, then reassigns every point to its nearest
	// center, ties broken by center-creation order.
	PartitionNearest
)

// String implements fmt.Stringer.
func (p PartitionType) String() string {
	switch p {
	case PartitionFirst:
		return "first"
	case PartitionNearest:
		return "nearest"
	default:
		return fmt.Sprintf("PartitionType(%d)", int(p))
	}
}

// coveredPoint is a point index paired with its cached distance to some
// reference center.
type coveredPoint struct {
	index uint64
	dist  float64
}

// coveredSet is a candidate node's transient per-split state: a center
// point index and the other points it currently covers, each with its
// distance to that center already computed (spec.md §4.1 "Data caches").
type coveredSet struct {
	center uint64
	points []coveredPoint
}

// coverage is the number of points this set represents, including its
// center.
func (c *coveredSet) coverage() uint64 {
	return uint64(len(c.points)) + 1
}

// maxDistance returns the largest cached distance to center, or 0 if c
// has no other points.
func (c *coveredSet) maxDistance() float64 {
	m := 0.0
	for _, p := range c.points {
		if p.dist > m {
			m = p.dist
		}
	}
	return m
}

// indices returns every point index in c, center first.
func (c *coveredSet) indices() []uint64 {
	out := make([]uint64, 0, len(c.points)+1)
	out = append(out, c.center)
	for _, p := range c.points {
		out = append(out, p.index)
	}
	return out
}

// newRootCoveredSet builds the initial covered set spanning every index in
// the cloud, used to seed the builder's root BuilderNode.
func newRootCoveredSet(cloud PointCloud) (coveredSet, error) {
	n := cloud.Len()
	if n == 0 {
		return coveredSet{}, ErrEmptyCloud
	}
	center := n - 1
	points := make([]coveredPoint, 0, n-1)
	for i := uint64(0); i < n-1; i++ {
		d, err := cloud.Dist(center, i)
		if err != nil {
			return coveredSet{}, err
		}
		points = append(points, coveredPoint{index: i, dist: d})
	}
	return coveredSet{center: center, points: points}, nil
}

// deriveSplitRNG derives a per-split RNG from a base seed and the parent
// node's center point index, so sibling splits are independent yet
// reproducible across parallel schedules (spec.md §4.1). With seedSet
// false, entropy is drawn from the OS via a non-deterministic seed.
func deriveSplitRNG(seed uint64, seedSet bool, parentPoint uint64) *rand.Rand {
	if !seedSet {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(int64(seed ^ parentPoint))) //nolint:gosec
}

// split dispatches to the configured partition strategy. radius is the
// target scale-radius (scale_base^next_scale); cloud supplies distances
// for newly-chosen centers.
func split(pt PartitionType, set coveredSet, radius float64, cloud PointCloud, rng *rand.Rand) (nested coveredSet, splitOffs []coveredSet, err error) {
	switch pt {
	case PartitionFirst:
		return splitFirst(set, radius, cloud, rng)
	case PartitionNearest:
		return splitNearest(set, radius, cloud, rng)
	default:
		return coveredSet{}, nil, fmt.Errorf("%w: unknown partition type %v", ErrInvalidConfig, pt)
	}
}

// splitFirst implements the "First" partition strategy (spec.md §4.1).
func splitFirst(set coveredSet, radius float64, cloud PointCloud, rng *rand.Rand) (coveredSet, []coveredSet, error) {
	close, far := partitionByRadius(set.points, radius)
	nested := coveredSet{center: set.center, points: close}

	var splitOffs []coveredSet
	remaining := far
	for len(remaining) > 0 {
		pick := rng.Intn(len(remaining))
		newCenter := remaining[pick].index
		remaining = removeAt(remaining, pick)

		dists, err := distancesFrom(newCenter, remaining, cloud)
		if err != nil {
			return coveredSet{}, nil, err
		}
		rePointed := make([]coveredPoint, len(remaining))
		for i, p := range remaining {
			rePointed[i] = coveredPoint{index: p.index, dist: dists[i]}
		}

		close2, far2 := partitionByRadius(rePointed, radius)
		splitOffs = append(splitOffs, coveredSet{center: newCenter, points: close2})
		remaining = far2
	}
	return nested, splitOffs, nil
}

// splitNearest implements the "Nearest" partition strategy (spec.md §4.1):
// greedily pick centers until every point is covered at radius, then
// reassign every point to its nearest center.
func splitNearest(set coveredSet, radius float64, cloud PointCloud, rng *rand.Rand) (coveredSet, []coveredSet, error) {
	covered := make([]bool, len(set.points))
	for i, p := range set.points {
		covered[i] = p.dist < radius
	}

	var centers []uint64
	var centerDists [][]float64 // centerDists[c][i] = dist from centers[c] to set.points[i]

	for {
		allCovered := true
		var uncoveredIdx []int
		for i, ok := range covered {
			if !ok {
				allCovered = false
				uncoveredIdx = append(uncoveredIdx, i)
			}
		}
		if allCovered {
			break
		}

		pick := uncoveredIdx[rng.Intn(len(uncoveredIdx))]
		newCenter := set.points[pick].index

		dists := make([]float64, len(set.points))
		for i, p := range set.points {
			d, err := cloud.Dist(newCenter, p.index)
			if err != nil {
				return coveredSet{}, nil, err
			}
			dists[i] = d
			if d < radius {
				covered[i] = true
			}
		}
		centers = append(centers, newCenter)
		centerDists = append(centerDists, dists)
	}

	nested := coveredSet{center: set.center}
	splitOffs := make([]coveredSet, len(centers))
	for i, c := range centers {
		splitOffs[i] = coveredSet{center: c}
	}

	for i, p := range set.points {
		bestIdx := -1
		bestDist := math.MaxFloat64
		for c, dists := range centerDists {
			if dists[i] < bestDist {
				bestDist = dists[i]
				bestIdx = c
			}
		}
		if bestIdx == -1 || p.dist <= bestDist {
			nested.points = append(nested.points, coveredPoint{index: p.index, dist: p.dist})
		} else if centers[bestIdx] != p.index {
			splitOffs[bestIdx].points = append(splitOffs[bestIdx].points, coveredPoint{index: p.index, dist: bestDist})
		}
	}
	return nested, splitOffs, nil
}

// partitionByRadius splits points into those strictly within radius of
// their cached center distance ("close") and the rest ("far").
func partitionByRadius(points []coveredPoint, radius float64) (close, far []coveredPoint) {
	close = make([]coveredPoint, 0, len(points))
	far = make([]coveredPoint, 0, len(points))
	for _, p := range points {
		if p.dist < radius {
			close = append(close, p)
		} else {
			far = append(far, p)
		}
	}
	return close, far
}

// removeAt returns a copy of points without the element at index i,
// preserving the order of the rest (Vec::remove semantics).
func removeAt(points []coveredPoint, i int) []coveredPoint {
	out := make([]coveredPoint, 0, len(points)-1)
	out = append(out, points[:i]...)
	out = append(out, points[i+1:]...)
	return out
}

// distancesFrom computes the distance from center to every point in pts.
func distancesFrom(center uint64, pts []coveredPoint, cloud PointCloud) ([]float64, error) {
	out := make([]float64, len(pts))
	for i, p := range pts {
		d, err := cloud.Dist(center, p.index)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
