// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"

	"github.com/goko-project/goko/stats"
)

// InstallDirichlet computes and publishes a Dirichlet concentration vector
// on every node: one bucket per child address (weighted by that child's
// coverage count) plus one bucket for the singleton population, keyed by
// stats.SingletonKey (spec.md §4.9). Computation has no cross-node
// dependency, so every node can be processed independently; publication
// still proceeds bottom-up to match the tree's general plugin-install
// discipline.
func (t *Tree) InstallDirichlet() error {
	return t.installPlugin(PluginDirichlet, func(n *CoverNode) (any, error) {
		d := stats.NewDirichlet()
		for _, c := range n.Children {
			child, ok := t.Node(c)
			if !ok {
				return nil, fmt.Errorf("%w: dangling child %v", ErrInvalidTree, c)
			}
			d.AddChildPop(uint64(c), float64(child.CoverageCount))
		}
		d.AddChildPop(stats.SingletonKey, float64(len(n.Singletons)))
		return d, nil
	})
}

// InstallGaussian computes and publishes a recursive DiagGaussian on every
// node (spec.md §4.9, grounded on GokoDiagGaussian::recursive in
// diag_gaussian.rs): a node's Gaussian summarizes its singletons (and a
// leaf's center, when it is not already one of them) and merges its
// children's Gaussians.
// cloud must additionally implement VectorCloud; InstallGaussian returns
// an error otherwise.
func (t *Tree) InstallGaussian() error {
	vc, ok := t.cloud.(VectorCloud)
	if !ok {
		return fmt.Errorf("%w: point cloud does not implement VectorCloud", ErrInvalidConfig)
	}
	return t.installPlugin(PluginGaussian, func(n *CoverNode) (any, error) {
		return installGaussian(vc, n, func(addr NodeAddress) (*DiagGaussian, error) {
			child, ok := t.Node(addr)
			if !ok {
				return nil, fmt.Errorf("%w: dangling child %v", ErrInvalidTree, addr)
			}
			g, ok := child.Plugin(PluginGaussian)
			if !ok {
				return nil, fmt.Errorf("%w: gaussian not yet installed on child %v", ErrPluginNotInstalled, addr)
			}
			return g.(*DiagGaussian), nil
		})
	})
}

// InstallLabels computes and publishes a LabelSummary on every node,
// merged bottom-up the same way as InstallGaussian (spec.md §4.9).
func (t *Tree) InstallLabels() error {
	return t.installPlugin(PluginLabels, func(n *CoverNode) (any, error) {
		return installLabels(t.cloud, n, func(addr NodeAddress) (*LabelSummary, error) {
			child, ok := t.Node(addr)
			if !ok {
				return nil, fmt.Errorf("%w: dangling child %v", ErrInvalidTree, addr)
			}
			s, ok := child.Plugin(PluginLabels)
			if !ok {
				return nil, fmt.Errorf("%w: labels not yet installed on child %v", ErrPluginNotInstalled, addr)
			}
			return s.(*LabelSummary), nil
		})
	})
}

// installPlugin runs the installation discipline every plugin shares
// (spec.md §4.4 "Plugin installation"): process layers from leaves to root,
// clone each node before mutating its Plugins map (CoverNode is otherwise
// immutable once published), and refresh each layer twice right after its
// nodes are computed, so that a node's compute function can read its
// children's already-published plugin value. Layers are therefore
// published one at a time: a concurrent reader can see the plugin on lower
// layers before it appears on higher ones.
//
// Only one installation may run on a tree at a time; pluginMu enforces
// that (concurrent reads proceed lock-free throughout via CoverLayer's
// dual-map discipline).
func (t *Tree) installPlugin(key PluginKey, compute func(n *CoverNode) (any, error)) error {
	t.pluginMu <- struct{}{}
	defer func() { <-t.pluginMu }()

	for _, scale := range t.sortedScales() {
		l := t.layers[scale]
		var nodes []*CoverNode
		l.Range(func(_ uint64, n *CoverNode) { nodes = append(nodes, n) })

		for _, n := range nodes {
			v, err := compute(n)
			if err != nil {
				return err
			}
			clone := n.clone()
			if clone.Plugins == nil {
				clone.Plugins = make(map[PluginKey]any, 1)
			}
			clone.Plugins[key] = v
			l.set(clone.Address.PointIndex(), clone)
		}
		l.refresh()
		l.refresh()
	}
	return nil
}
