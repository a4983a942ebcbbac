// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import "fmt"

// LabelSummary tallies the labels PointCloud.Label reports for the points a
// node covers, following the pointcloud crate's SummaryCounter<S>: a count
// per distinct label value plus a separate count of points that carried no
// label at all (spec.md §4.9 supplemented feature, grounded on
// base_traits.rs's LabeledCloud/SummaryCounter and labels/list.rs).
//
// Labels are compared by their formatted representation rather than Go
// equality, since PointCloud.Label returns an opaque any and not every
// label type a caller might use is guaranteed comparable.
type LabelSummary struct {
	Counts    map[string]uint64
	Samples   map[string]any // one representative value per key, for display
	Unlabeled uint64
	Total     uint64
}

// NewLabelSummary returns an empty LabelSummary.
func NewLabelSummary() *LabelSummary {
	return &LabelSummary{Counts: make(map[string]uint64), Samples: make(map[string]any)}
}

// Add folds one point's label into the summary. A nil label counts as
// unlabeled.
func (s *LabelSummary) Add(label any) {
	s.Total++
	if label == nil {
		s.Unlabeled++
		return
	}
	key := fmt.Sprint(label)
	s.Counts[key]++
	if _, ok := s.Samples[key]; !ok {
		s.Samples[key] = label
	}
}

// Merge folds other's tallies into s.
func (s *LabelSummary) Merge(other *LabelSummary) {
	for k, v := range other.Counts {
		s.Counts[k] += v
		if _, ok := s.Samples[k]; !ok {
			s.Samples[k] = other.Samples[k]
		}
	}
	s.Unlabeled += other.Unlabeled
	s.Total += other.Total
}

// Majority returns the most frequently observed label and its count, or
// false if the summary has no labeled points.
func (s *LabelSummary) Majority() (any, uint64, bool) {
	var bestKey string
	var best uint64
	for k, v := range s.Counts {
		if v > best || (v == best && k < bestKey) {
			bestKey, best = k, v
		}
	}
	if best == 0 {
		return nil, 0, false
	}
	return s.Samples[bestKey], best, true
}

// installLabels computes n's LabelSummary bottom-up: n's singletons, plus
// n's own center when n is a leaf that does not already list it as a
// singleton, merged with its children's summaries (mirroring
// installGaussian's recursive-merge shape).
func installLabels(cloud PointCloud, n *CoverNode, childSummary func(NodeAddress) (*LabelSummary, error)) (*LabelSummary, error) {
	s := NewLabelSummary()

	if n.IsLeaf() && !n.HasSingleton(n.Address.PointIndex()) {
		label, err := cloud.Label(n.Address.PointIndex())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
		}
		s.Add(label)
	}
	for _, p := range n.Singletons {
		label, err := cloud.Label(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
		}
		s.Add(label)
	}

	for _, child := range n.Children {
		cs, err := childSummary(child)
		if err != nil {
			return nil, err
		}
		s.Merge(cs)
	}
	return s, nil
}
