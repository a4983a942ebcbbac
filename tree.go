// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/goko-project/goko/stats"
)

// Tree composes a CoverTree's layers, root address, and final-address map
// (point index -> terminal node) into queryable form. A Tree is produced
// by Build and is logically immutable except for plugin installation
// (spec.md §3 "Lifecycle", §4.4): there is no dynamic insert/delete of
// points into an already-published tree (spec.md Non-goals).
//
// All query methods (KNN, RoutingKNN, Path, KnownPath, Sample) are
// lock-free and safe for concurrent use by any number of goroutines,
// mirroring bart.Table's "safe for concurrent readers" contract.
type Tree struct {
	cfg      BuilderConfig
	cloud    PointCloud
	layers   map[int]*CoverLayer
	rootAddr NodeAddress

	// finalAddresses maps point index -> the leaf/singleton node that
	// owns it. Built once during construction and never mutated
	// afterward (no dynamic insert/delete, so no evmap machinery is
	// needed here — see DESIGN.md).
	finalAddresses map[uint64]NodeAddress

	pluginMu chan struct{} // 1-buffered mutex: serializes plugin installation only
}

// Config returns the builder configuration this tree was constructed with.
func (t *Tree) Config() BuilderConfig { return t.cfg }

// Cloud returns the point cloud this tree was built over.
func (t *Tree) Cloud() PointCloud { return t.cloud }

// Root returns the address of the tree's root node.
func (t *Tree) Root() NodeAddress { return t.rootAddr }

// Layer returns the layer for the given scale index, or nil if the tree
// has no nodes at that scale.
func (t *Tree) Layer(scale int) *CoverLayer { return t.layers[scale] }

// Node looks up the node at addr, or false if it does not exist.
func (t *Tree) Node(addr NodeAddress) (*CoverNode, bool) {
	if addr.IsSingleton() {
		return nil, false
	}
	l := t.layers[addr.Scale()]
	if l == nil {
		return nil, false
	}
	return l.Get(addr.PointIndex())
}

// RootNode returns the tree's root node.
func (t *Tree) RootNode() *CoverNode {
	n, ok := t.Node(t.rootAddr)
	if !ok {
		panic("goko: root address missing from its layer")
	}
	return n
}

// Summary reports coarse structural statistics, a read-only convenience
// over an already-published tree (grounded on bart.Table's Stats()-shaped
// helpers and lvlath/core's Stats()).
type Summary struct {
	NodeCount     int
	PointCount    uint64
	MaxCoverage   uint64
	MaxDepth      int
	MinScale      int
	MaxScale      int
}

// Summary walks every layer once and reports aggregate structural stats.
func (t *Tree) Summary() Summary {
	var s Summary
	s.PointCount = t.cloud.Len()
	first := true
	for scale, l := range t.layers {
		if l.Len() == 0 {
			continue
		}
		if first || scale < s.MinScale {
			s.MinScale = scale
		}
		if first || scale > s.MaxScale {
			s.MaxScale = scale
		}
		first = false
		l.Range(func(_ uint64, n *CoverNode) {
			s.NodeCount++
			if n.CoverageCount > s.MaxCoverage {
				s.MaxCoverage = n.CoverageCount
			}
		})
	}
	s.MaxDepth = s.MaxScale - s.MinScale + 1
	return s
}

// KnownPath walks parent links from the leaf recorded in the final-address
// map back to the root for a point known to be indexed by the tree, then
// returns distances from the point to each node center, root first
// (spec.md §4.5 "Known path").
func (t *Tree) KnownPath(point uint64) ([]PathStep, error) {
	leafAddr, ok := t.finalAddresses[point]
	if !ok {
		return nil, fmt.Errorf("%w: point %d", ErrIndexNotFound, point)
	}

	var chain []NodeAddress
	addr := leafAddr
	for {
		chain = append(chain, addr)
		n, ok := t.Node(addr)
		if !ok {
			return nil, fmt.Errorf("%w: dangling parent reference at %v", ErrInvalidTree, addr)
		}
		if !n.HasParent {
			break
		}
		addr = n.ParentAddress
	}
	// chain is leaf-to-root; reverse to root-to-leaf.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	out := make([]PathStep, len(chain))
	for i, a := range chain {
		d, err := t.cloud.Dist(point, a.PointIndex())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
		}
		out[i] = PathStep{Address: a, Distance: d}
	}
	return out, nil
}

// PathStep is one (address, distance) entry in a routing path.
type PathStep struct {
	Address  NodeAddress
	Distance float64
}

// Path walks from the root to a query's terminal node using the tree's
// configured partition-derived routing policy (spec.md §4.5 "Path").
func (t *Tree) Path(query uint64) ([]PathStep, error) {
	root := t.RootNode()
	d0, err := t.cloud.Dist(query, root.Address.PointIndex())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
	}
	out := []PathStep{{Address: root.Address, Distance: d0}}

	cur := root
	curDist := d0
	for !cur.IsLeaf() {
		next, nextDist, ok, err := t.stepChild(cur, curDist, query)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, PathStep{Address: next.Address, Distance: nextDist})
		cur, curDist = next, nextDist
	}
	return out, nil
}

// stepChild picks the next node to descend into from cur, per the
// configured partition's containment policy (spec.md §4.5):
//
//   - First: the first child whose distance < scale_base^child_scale.
//   - Nearest: the nearest child if its distance < its scale-radius,
//     otherwise the nested child if it covers.
func (t *Tree) stepChild(cur *CoverNode, curDist float64, query uint64) (*CoverNode, float64, bool, error) {
	childRadius := scaleRadius(t.cfg.ScaleBase, cur.Children[0].Scale())

	switch t.cfg.PartitionType {
	case PartitionFirst:
		for _, addr := range cur.Children {
			child, ok := t.Node(addr)
			if !ok {
				return nil, 0, false, fmt.Errorf("%w: dangling child %v", ErrInvalidTree, addr)
			}
			d, err := t.cloud.Dist(query, addr.PointIndex())
			if err != nil {
				return nil, 0, false, fmt.Errorf("%w: %w", ErrPointCloud, err)
			}
			if d < scaleRadius(t.cfg.ScaleBase, addr.Scale()) {
				return child, d, true, nil
			}
		}
		return nil, 0, false, nil

	default: // PartitionNearest
		var best *CoverNode
		bestDist := 0.0
		for _, addr := range cur.SplitChildren() {
			child, ok := t.Node(addr)
			if !ok {
				return nil, 0, false, fmt.Errorf("%w: dangling child %v", ErrInvalidTree, addr)
			}
			d, err := t.cloud.Dist(query, addr.PointIndex())
			if err != nil {
				return nil, 0, false, fmt.Errorf("%w: %w", ErrPointCloud, err)
			}
			if best == nil || d < bestDist {
				best, bestDist = child, d
			}
		}
		if best != nil && bestDist < scaleRadius(t.cfg.ScaleBase, best.Address.Scale()) {
			return best, bestDist, true, nil
		}
		if curDist < childRadius {
			nested, ok := t.Node(cur.Children[0])
			if !ok {
				return nil, 0, false, fmt.Errorf("%w: dangling nested child %v", ErrInvalidTree, cur.Children[0])
			}
			return nested, curDist, true, nil
		}
		return nil, 0, false, nil
	}
}

// scaleRadius returns scale_base^scale, the ball radius at that scale.
func scaleRadius(base float64, scale int) float64 {
	return math.Pow(base, float64(scale))
}

// Sample walks from the root taking a categorical draw at each node using
// the installed Dirichlet plugin, and returns the center point of the
// node the walk terminates at (spec.md §4.5 "Sampling"). For a
// continuous, synthetic draw instead of an existing dataset point, see
// SampleVector.
func (t *Tree) Sample(rng *rand.Rand) (uint64, error) {
	n, err := t.sampleTerminal(rng)
	if err != nil {
		return 0, err
	}
	return n.Address.PointIndex(), nil
}

// SampleVector walks the tree the same way Sample does, but draws a
// synthetic continuous coordinate vector from the terminal node's
// installed Gaussian plugin instead of returning one of the dataset's own
// point indices (spec.md §4.9, grounded on GokoDiagGaussian::sample in
// diag_gaussian.rs).
func (t *Tree) SampleVector(rng *rand.Rand) ([]float32, error) {
	n, err := t.sampleTerminal(rng)
	if err != nil {
		return nil, err
	}
	plugin, ok := n.Plugin(PluginGaussian)
	if !ok {
		return nil, fmt.Errorf("%w: gaussian", ErrPluginNotInstalled)
	}
	g, ok := plugin.(*DiagGaussian)
	if !ok {
		return nil, fmt.Errorf("%w: gaussian plugin has unexpected type", ErrInvalidConfig)
	}
	return g.Sample(rng), nil
}

// sampleTerminal walks from the root taking a categorical draw at each
// node using the installed Dirichlet plugin, stopping at the first node
// whose draw lands on the singleton bucket.
func (t *Tree) sampleTerminal(rng *rand.Rand) (*CoverNode, error) {
	cur := t.RootNode()
	for {
		plugin, ok := cur.Plugin(PluginDirichlet)
		if !ok {
			return nil, fmt.Errorf("%w: dirichlet", ErrPluginNotInstalled)
		}
		dir, ok := plugin.(*stats.Dirichlet)
		if !ok {
			return nil, fmt.Errorf("%w: dirichlet plugin has unexpected type", ErrInvalidConfig)
		}
		draw := dir.Sample(rng)
		if draw == stats.SingletonKey {
			return cur, nil
		}
		next, ok := t.Node(NodeAddress(draw))
		if !ok {
			return nil, fmt.Errorf("%w: dangling draw %v", ErrInvalidTree, NodeAddress(draw))
		}
		cur = next
	}
}

// sortedScales returns the layer scale indices present in t, ascending
// (leaves first). Used by plugin installation and publish sequencing,
// which must proceed bottom-up (spec.md §5).
func (t *Tree) sortedScales() []int {
	scales := make([]int, 0, len(t.layers))
	for s := range t.layers {
		scales = append(scales, s)
	}
	sort.Ints(scales)
	return scales
}
