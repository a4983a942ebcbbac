// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"testing"

	"github.com/goko-project/goko/stats"
	"github.com/stretchr/testify/require"
)

func TestInstallDirichletCoversEveryNode(t *testing.T) {
	tree, _ := buildTestTree(t, 5)
	require.NoError(t, tree.InstallDirichlet())

	for _, scale := range tree.sortedScales() {
		tree.layers[scale].Range(func(_ uint64, n *CoverNode) {
			_, ok := n.Plugin(PluginDirichlet)
			require.True(t, ok, "node %v missing dirichlet plugin", n.Address)
		})
	}
}

func TestInstallDirichletBucketsMatchChildrenAndSingletons(t *testing.T) {
	tree, _ := buildTestTree(t, 5)
	require.NoError(t, tree.InstallDirichlet())

	root := tree.RootNode()
	plugin, ok := root.Plugin(PluginDirichlet)
	require.True(t, ok)
	dir := plugin.(*stats.Dirichlet)

	wantTotal := float64(len(root.Singletons))
	for _, c := range root.Children {
		child, ok := tree.Node(c)
		require.True(t, ok)
		wantTotal += float64(child.CoverageCount)
	}
	require.InDelta(t, wantTotal, dir.Total(), 1e-9)
}

func TestInstallGaussianRequiresVectorCloud(t *testing.T) {
	cloud := NewSliceCloud([]float64{1, 2, 3}, func(a, b float64) (float64, error) { return a - b, nil })
	tree, err := Build(cloud, WithRNGSeed(1))
	require.NoError(t, err)

	err = tree.InstallGaussian()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstallGaussianCoversEveryNode(t *testing.T) {
	tree, _ := buildTestTree(t, 4)
	require.NoError(t, tree.InstallGaussian())

	for _, scale := range tree.sortedScales() {
		tree.layers[scale].Range(func(_ uint64, n *CoverNode) {
			_, ok := n.Plugin(PluginGaussian)
			require.True(t, ok, "node %v missing gaussian plugin", n.Address)
		})
	}
}

func TestInstallGaussianRootCountMatchesCoverage(t *testing.T) {
	tree, _ := buildTestTree(t, 4)
	require.NoError(t, tree.InstallGaussian())

	root := tree.RootNode()
	plugin, ok := root.Plugin(PluginGaussian)
	require.True(t, ok)
	g := plugin.(*DiagGaussian)
	require.Equal(t, root.CoverageCount, g.Count)
}

func TestInstallLabelsCoversEveryNode(t *testing.T) {
	tree, cloud := buildTestTree(t, 4)
	require.NoError(t, tree.InstallLabels())

	root := tree.RootNode()
	plugin, ok := root.Plugin(PluginLabels)
	require.True(t, ok)
	summary := plugin.(*LabelSummary)
	require.Equal(t, cloud.Len(), summary.Total)
}

func TestOnlyOnePluginInstallRunsAtATime(t *testing.T) {
	tree, _ := buildTestTree(t, 5)
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { done <- tree.InstallDirichlet() }()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-done)
	}
}
