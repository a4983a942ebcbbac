// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"encoding/json"
	"fmt"
	"io"
)

// persistedNode is a tree node's flat, serializable representation,
// following the bart.DumpListNode idiom of recursive trees flattened
// into JSON-friendly records rather than dumping internal pointers.
type persistedNode struct {
	Scale         int      `json:"scale"`
	Point         uint64   `json:"point"`
	HasParent     bool     `json:"has_parent,omitempty"`
	ParentScale   int      `json:"parent_scale,omitempty"`
	ParentPoint   uint64   `json:"parent_point,omitempty"`
	Radius        float32  `json:"radius"`
	CoverageCount uint64   `json:"coverage_count"`
	ChildScale    []int    `json:"child_scale,omitempty"`
	ChildPoint    []uint64 `json:"child_point,omitempty"`
	Singletons    []uint64 `json:"singletons,omitempty"`
}

// persistedTree is the on-wire representation Save/Load exchange. The
// point cloud itself is out of scope (spec.md Non-goals: the wire codec
// and storage backend for the cloud are external collaborators); Load
// expects the caller to supply the same PointCloud the tree was built
// over.
type persistedTree struct {
	ScaleBase     float64 `json:"scale_base"`
	LeafCutoff    uint64  `json:"leaf_cutoff"`
	MinResIndex   int     `json:"min_res_index"`
	UseSingletons bool    `json:"use_singletons"`
	PartitionType int     `json:"partition_type"`

	RootScale int             `json:"root_scale"`
	RootPoint uint64          `json:"root_point"`
	Nodes     []persistedNode `json:"nodes"`
}

// Save encodes t's structure (configuration, every node's address, parent,
// radius, coverage count, children, and singletons) to w as JSON. The
// point cloud is not written; Load requires the caller to supply it.
func (t *Tree) Save(w io.Writer) error {
	pt := persistedTree{
		ScaleBase:     t.cfg.ScaleBase,
		LeafCutoff:    t.cfg.LeafCutoff,
		MinResIndex:   t.cfg.MinResIndex,
		UseSingletons: t.cfg.UseSingletons,
		PartitionType: int(t.cfg.PartitionType),
		RootScale:     t.rootAddr.Scale(),
		RootPoint:     t.rootAddr.PointIndex(),
	}

	for _, scale := range t.sortedScales() {
		t.layers[scale].Range(func(point uint64, n *CoverNode) {
			pn := persistedNode{
				Scale:         scale,
				Point:         point,
				HasParent:     n.HasParent,
				Radius:        n.Radius,
				CoverageCount: n.CoverageCount,
				Singletons:    n.Singletons,
			}
			if n.HasParent {
				pn.ParentScale = n.ParentAddress.Scale()
				pn.ParentPoint = n.ParentAddress.PointIndex()
			}
			for _, c := range n.Children {
				pn.ChildScale = append(pn.ChildScale, c.Scale())
				pn.ChildPoint = append(pn.ChildPoint, c.PointIndex())
			}
			pt.Nodes = append(pt.Nodes, pn)
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(pt); err != nil {
		return fmt.Errorf("goko: encode tree: %w", err)
	}
	return nil
}

// Load decodes a tree previously written by Save, validating every
// address and reference against cloud and the declared configuration
// (spec.md §4.4 "Persistence"). A structurally invalid tree (a scale
// outside the declared range, a dangling child or parent reference)
// returns ErrInvalidTree and never exposes a reader. The number of decoded
// nodes is not compared against the cloud.
func Load(r io.Reader, cloud PointCloud) (*Tree, error) {
	var pt persistedTree
	if err := json.NewDecoder(r).Decode(&pt); err != nil {
		return nil, fmt.Errorf("goko: decode tree: %w", err)
	}

	cfg := BuilderConfig{
		ScaleBase:     pt.ScaleBase,
		LeafCutoff:    pt.LeafCutoff,
		MinResIndex:   pt.MinResIndex,
		UseSingletons: pt.UseSingletons,
		PartitionType: PartitionType(pt.PartitionType),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTree, err)
	}

	rootAddr, err := NewNodeAddress(pt.RootScale, pt.RootPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: root address: %w", ErrInvalidTree, err)
	}

	layers := map[int]*CoverLayer{}
	finalAddr := make(map[uint64]NodeAddress, cloud.Len())
	seen := make(map[NodeAddress]bool, len(pt.Nodes))

	for _, pn := range pt.Nodes {
		addr, err := NewNodeAddress(pn.Scale, pn.Point)
		if err != nil {
			return nil, fmt.Errorf("%w: node (%d, %d): %w", ErrInvalidTree, pn.Scale, pn.Point, err)
		}
		if seen[addr] {
			return nil, fmt.Errorf("%w: duplicate node %v", ErrInvalidTree, addr)
		}
		seen[addr] = true

		if len(pn.ChildScale) != len(pn.ChildPoint) {
			return nil, fmt.Errorf("%w: node %v has mismatched child arrays", ErrInvalidTree, addr)
		}

		n := &CoverNode{
			Address:       addr,
			HasParent:     pn.HasParent,
			Radius:        pn.Radius,
			CoverageCount: pn.CoverageCount,
			Singletons:    pn.Singletons,
		}
		if pn.HasParent {
			parentAddr, err := NewNodeAddress(pn.ParentScale, pn.ParentPoint)
			if err != nil {
				return nil, fmt.Errorf("%w: node %v parent: %w", ErrInvalidTree, addr, err)
			}
			n.ParentAddress = parentAddr
		}
		for i := range pn.ChildScale {
			childAddr, err := NewNodeAddress(pn.ChildScale[i], pn.ChildPoint[i])
			if err != nil {
				return nil, fmt.Errorf("%w: node %v child: %w", ErrInvalidTree, addr, err)
			}
			n.Children = append(n.Children, childAddr)
		}

		l := layers[pn.Scale]
		if l == nil {
			l = newCoverLayer(pn.Scale)
			layers[pn.Scale] = l
		}
		l.set(pn.Point, n)

		for _, s := range n.Singletons {
			finalAddr[s] = addr
		}
		if n.IsLeaf() {
			finalAddr[addr.PointIndex()] = addr
		}
	}

	if !seen[rootAddr] {
		return nil, fmt.Errorf("%w: root address %v not among decoded nodes", ErrInvalidTree, rootAddr)
	}

	for _, l := range layers {
		l.refresh()
		l.refresh()
	}

	if err := verifyTreeStructure(layers, rootAddr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTree, err)
	}

	return &Tree{
		cfg:            cfg,
		cloud:          cloud,
		layers:         layers,
		rootAddr:       rootAddr,
		finalAddresses: finalAddr,
		pluginMu:       make(chan struct{}, 1),
	}, nil
}

// verifyTreeStructure checks that every child and parent reference among
// layers resolves to a real node, catching a corrupted or hand-edited
// save file before it is exposed as a Tree.
func verifyTreeStructure(layers map[int]*CoverLayer, root NodeAddress) error {
	lookup := func(addr NodeAddress) (*CoverNode, bool) {
		l := layers[addr.Scale()]
		if l == nil {
			return nil, false
		}
		return l.Get(addr.PointIndex())
	}

	for _, l := range layers {
		var rangeErr error
		l.Range(func(point uint64, n *CoverNode) {
			if n.HasParent {
				if _, ok := lookup(n.ParentAddress); !ok {
					rangeErr = fmt.Errorf("node (scale=%d, point=%d) has dangling parent %v", l.Scale(), point, n.ParentAddress)
				}
			}
			for _, c := range n.Children {
				if _, ok := lookup(c); !ok {
					rangeErr = fmt.Errorf("node (scale=%d, point=%d) has dangling child %v", l.Scale(), point, c)
				}
			}
		})
		if rangeErr != nil {
			return rangeErr
		}
	}
	if _, ok := lookup(root); !ok {
		return fmt.Errorf("root %v not present in any layer", root)
	}
	return nil
}
