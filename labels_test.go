// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelSummaryAddCountsByKey(t *testing.T) {
	s := NewLabelSummary()
	s.Add("a")
	s.Add("a")
	s.Add("b")
	s.Add(nil)

	require.Equal(t, uint64(2), s.Counts["a"])
	require.Equal(t, uint64(1), s.Counts["b"])
	require.Equal(t, uint64(1), s.Unlabeled)
	require.Equal(t, uint64(4), s.Total)
}

func TestLabelSummaryMerge(t *testing.T) {
	a := NewLabelSummary()
	a.Add("x")
	b := NewLabelSummary()
	b.Add("x")
	b.Add("y")
	b.Add(nil)

	a.Merge(b)
	require.Equal(t, uint64(2), a.Counts["x"])
	require.Equal(t, uint64(1), a.Counts["y"])
	require.Equal(t, uint64(1), a.Unlabeled)
	require.Equal(t, uint64(4), a.Total)
}

func TestLabelSummaryMajorityTieBrokenByKey(t *testing.T) {
	s := NewLabelSummary()
	s.Add("b")
	s.Add("a")

	label, count, ok := s.Majority()
	require.True(t, ok)
	require.Equal(t, "a", label)
	require.Equal(t, uint64(1), count)
}

func TestLabelSummaryMajorityEmpty(t *testing.T) {
	s := NewLabelSummary()
	_, _, ok := s.Majority()
	require.False(t, ok)
}

func TestLabelSummaryMajorityPicksHighestCount(t *testing.T) {
	s := NewLabelSummary()
	s.Add("rare")
	s.Add("common")
	s.Add("common")
	s.Add("common")

	label, count, ok := s.Majority()
	require.True(t, ok)
	require.Equal(t, "common", label)
	require.Equal(t, uint64(3), count)
}
