// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuilderConfigDefaults(t *testing.T) {
	cfg := NewBuilderConfig()
	require.Equal(t, 2.0, cfg.ScaleBase)
	require.Equal(t, uint64(1), cfg.LeafCutoff)
	require.Equal(t, -10, cfg.MinResIndex)
	require.True(t, cfg.UseSingletons)
	require.Equal(t, PartitionNearest, cfg.PartitionType)
}

func TestBuilderConfigValidateRejectsBadScaleBase(t *testing.T) {
	cfg := NewBuilderConfig(WithScaleBase(1))
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestBuilderConfigValidateRejectsBadLeafCutoff(t *testing.T) {
	cfg := NewBuilderConfig(WithLeafCutoff(0))
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestBuilderConfigValidateRejectsBadMinResIndex(t *testing.T) {
	cfg := NewBuilderConfig(WithMinResIndex(MinScaleIndex - 1))
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestBuildRejectsEmptyCloud(t *testing.T) {
	cloud := newVectorCloud(nil, nil)
	_, err := Build(cloud)
	require.ErrorIs(t, err, ErrEmptyCloud)
}

func TestBuildProducesEveryPoint(t *testing.T) {
	tree, cloud := buildTestTree(t, 5)

	seen := make(map[uint64]bool)
	for scale, l := range tree.layers {
		l.Range(func(point uint64, n *CoverNode) {
			for _, s := range n.Singletons {
				seen[s] = true
			}
			if n.IsLeaf() {
				seen[n.Address.PointIndex()] = true
			}
			_ = scale
		})
	}
	require.Len(t, seen, int(cloud.Len()))
	for i := uint64(0); i < cloud.Len(); i++ {
		require.True(t, seen[i], "point %d missing from tree", i)
	}
}

func TestBuildCoverageCountInvariant(t *testing.T) {
	tree, _ := buildTestTree(t, 4)

	for _, scale := range tree.sortedScales() {
		l := tree.layers[scale]
		l.Range(func(point uint64, n *CoverNode) {
			got := n.recountCoverage(func(addr NodeAddress) uint64 {
				child, ok := tree.Node(addr)
				require.True(t, ok, "dangling child %v", addr)
				return child.CoverageCount
			})
			require.Equal(t, n.CoverageCount, got, "node %v coverage mismatch", n.Address)
		})
	}
}

func TestBuildRootCoversEveryChild(t *testing.T) {
	tree, cloud := buildTestTree(t, 4)
	root := tree.RootNode()
	require.Equal(t, cloud.Len(), root.CoverageCount)
}

func TestBuildIsReproducibleWithFixedSeed(t *testing.T) {
	cloud := gridCloud(4)
	t1, err := Build(cloud, WithRNGSeed(99))
	require.NoError(t, err)
	t2, err := Build(cloud, WithRNGSeed(99))
	require.NoError(t, err)

	require.Equal(t, t1.Summary(), t2.Summary())
	require.Equal(t, t1.Root(), t2.Root())
}

func TestBuildWithFirstPartition(t *testing.T) {
	tree, cloud := buildTestTree(t, 4, WithPartitionType(PartitionFirst))
	require.Equal(t, cloud.Len(), tree.RootNode().CoverageCount)
}

func TestBuildSinglePointCloud(t *testing.T) {
	cloud := newVectorCloud([][]float32{{0, 0}}, []string{"only"})
	tree, err := Build(cloud, WithRNGSeed(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), tree.RootNode().CoverageCount)
	require.True(t, tree.RootNode().IsLeaf())
}
