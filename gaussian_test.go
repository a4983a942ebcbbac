// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiagGaussianMeanAndVar(t *testing.T) {
	g := NewDiagGaussian(1)
	for _, x := range []float32{2, 4, 4, 4, 5, 5, 7, 9} {
		g.AddPoint([]float32{x})
	}
	require.InDelta(t, 5.0, g.Mean()[0], 1e-9)
	require.InDelta(t, 4.0, g.Var()[0], 1e-9)
}

func TestDiagGaussianMergeMatchesDirectAccumulation(t *testing.T) {
	a := NewDiagGaussian(2)
	a.AddPoint([]float32{1, 2})
	a.AddPoint([]float32{3, 4})

	b := NewDiagGaussian(2)
	b.AddPoint([]float32{5, 6})

	merged := NewDiagGaussian(2)
	merged.Merge(a)
	merged.Merge(b)

	direct := NewDiagGaussian(2)
	direct.AddPoint([]float32{1, 2})
	direct.AddPoint([]float32{3, 4})
	direct.AddPoint([]float32{5, 6})

	require.Equal(t, direct.Count, merged.Count)
	require.InDeltaSlice(t, direct.Mean(), merged.Mean(), 1e-9)
	require.InDeltaSlice(t, direct.Var(), merged.Var(), 1e-9)
}

func TestDiagGaussianLnPDFPeaksAtMean(t *testing.T) {
	g := NewDiagGaussian(1)
	for _, x := range []float32{-1, 0, 1} {
		g.AddPoint([]float32{x})
	}
	atMean, ok := g.LnPDF([]float32{0})
	require.True(t, ok)
	away, ok := g.LnPDF([]float32{10})
	require.True(t, ok)
	require.Greater(t, atMean, away)
}

func TestDiagGaussianLnPDFEmptyOrMismatchedDim(t *testing.T) {
	g := NewDiagGaussian(2)
	_, ok := g.LnPDF([]float32{1, 2})
	require.False(t, ok) // no mass yet

	g.AddPoint([]float32{0, 0})
	_, ok = g.LnPDF([]float32{1})
	require.False(t, ok) // dimension mismatch
}

func TestDiagGaussianKLDivergenceIdenticalIsZero(t *testing.T) {
	g := NewDiagGaussian(1)
	for _, x := range []float32{1, 2, 3, 4, 5} {
		g.AddPoint([]float32{x})
	}
	kl, ok := g.KLDivergence(g)
	require.True(t, ok)
	require.InDelta(t, 0, kl, 1e-9)
}

func TestDiagGaussianKLDivergenceNonNegative(t *testing.T) {
	a := NewDiagGaussian(1)
	for _, x := range []float32{0, 1, 2} {
		a.AddPoint([]float32{x})
	}
	b := NewDiagGaussian(1)
	for _, x := range []float32{10, 11, 9} {
		b.AddPoint([]float32{x})
	}
	kl, ok := a.KLDivergence(b)
	require.True(t, ok)
	require.GreaterOrEqual(t, kl, 0.0)
}

func TestDiagGaussianSampleDimensionMatches(t *testing.T) {
	g := NewDiagGaussian(3)
	g.AddPoint([]float32{1, 2, 3})
	g.AddPoint([]float32{3, 2, 1})
	s := g.Sample(rand.New(rand.NewSource(5)))
	require.Len(t, s, 3)
}
