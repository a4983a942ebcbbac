// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// bruteForceKNN computes the k nearest points to query by scanning every
// point directly, as an oracle to check Tree.KNN against.
func bruteForceKNN(t *testing.T, cloud *vectorCloud, query uint64, k int) []Result {
	var all []Result
	for i := uint64(0); i < cloud.Len(); i++ {
		d, err := cloud.Dist(query, i)
		require.NoError(t, err)
		all = append(all, Result{Point: i, Distance: d})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].Point < all[j].Point
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func TestKNNMatchesBruteForce(t *testing.T) {
	tree, cloud := buildTestTree(t, 6)

	for _, query := range []uint64{0, 5, 17, 35} {
		for _, k := range []int{1, 3, 5} {
			got, err := tree.KNN(query, k)
			require.NoError(t, err)
			want := bruteForceKNN(t, cloud, query, k)

			require.Len(t, got, len(want))
			gotDists := make([]float64, len(got))
			wantDists := make([]float64, len(want))
			for i := range got {
				gotDists[i] = got[i].Distance
				wantDists[i] = want[i].Distance
			}
			require.InDeltaSlice(t, wantDists, gotDists, 1e-6)
		}
	}
}

func TestKNNZeroKReturnsEmpty(t *testing.T) {
	tree, _ := buildTestTree(t, 4)
	got, err := tree.KNN(0, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestKNNNearestIsQueryItself(t *testing.T) {
	tree, _ := buildTestTree(t, 5)
	got, err := tree.KNN(12, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(12), got[0].Point)
	require.InDelta(t, 0, got[0].Distance, 1e-9)
}

func TestKNNResultsAreSortedNearestFirst(t *testing.T) {
	tree, _ := buildTestTree(t, 6)
	got, err := tree.KNN(20, 8)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestRoutingKNNOnlyReturnsCenters(t *testing.T) {
	tree, _ := buildTestTree(t, 6)

	centers := make(map[uint64]bool)
	for _, l := range tree.layers {
		l.Range(func(_ uint64, n *CoverNode) {
			centers[n.Address.PointIndex()] = true
		})
	}

	for _, query := range []uint64{0, 5, 17, 35} {
		got, err := tree.RoutingKNN(query, 5)
		require.NoError(t, err)
		for _, r := range got {
			require.True(t, centers[r.Point], "RoutingKNN returned non-center point %d", r.Point)
		}
	}
}

func TestRoutingKNNResultsAreSortedNearestFirst(t *testing.T) {
	tree, _ := buildTestTree(t, 6)
	got, err := tree.RoutingKNN(20, 6)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestRoutingKNNZeroKReturnsEmpty(t *testing.T) {
	tree, _ := buildTestTree(t, 4)
	got, err := tree.RoutingKNN(0, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLowerBoundNeverExceedsActualDistance(t *testing.T) {
	for _, scale := range []int{-3, 0, 4} {
		for _, d := range []float64{0, 1, 5, 100} {
			lb := lowerBound(d, scale, 2.0)
			require.LessOrEqual(t, lb, d)
			require.GreaterOrEqual(t, lb, 0.0)
		}
	}
}
