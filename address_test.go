// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNodeAddressRoundTrip(t *testing.T) {
	cases := []struct {
		scale int
		point uint64
	}{
		{0, 0},
		{-64, 0},
		{446, MaxPointIndex},
		{-3, 42},
	}
	for _, c := range cases {
		addr, err := NewNodeAddress(c.scale, c.point)
		require.NoError(t, err)
		require.Equal(t, c.scale, addr.Scale())
		require.Equal(t, c.point, addr.PointIndex())
		require.False(t, addr.IsSingleton())
	}
}

func TestNewNodeAddressRejectsOutOfRangeScale(t *testing.T) {
	_, err := NewNodeAddress(MinScaleIndex-1, 0)
	require.ErrorIs(t, err, ErrInvalidScale)

	_, err = NewNodeAddress(MaxScaleIndex+1, 0)
	require.ErrorIs(t, err, ErrInvalidScale)
}

func TestNewNodeAddressRejectsOutOfRangePoint(t *testing.T) {
	_, err := NewNodeAddress(0, MaxPointIndex+1)
	require.ErrorIs(t, err, ErrInvalidPointIndex)
}

func TestNewNodeAddressRejectsSingletonCollision(t *testing.T) {
	// The singleton sentinel is all-ones; scale=MaxScaleIndex, point=MaxPointIndex
	// biased becomes all-ones in the scale field, and MaxPointIndex is all-ones
	// in the point field, so this pair collides.
	_, err := NewNodeAddress(MaxScaleIndex, MaxPointIndex)
	require.ErrorIs(t, err, ErrReservedAddress)
}

func TestSingletonAddressIsSingleton(t *testing.T) {
	require.True(t, SingletonAddress.IsSingleton())
	require.Equal(t, "addr(singleton)", SingletonAddress.String())
}

func TestNodeAddressLessOrdersByScaleThenPoint(t *testing.T) {
	a, _ := NewNodeAddress(-3, 5)
	b, _ := NewNodeAddress(-3, 7)
	c, _ := NewNodeAddress(-1, 0)

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Less(c))
	require.True(t, SingletonAddress.Less(a) || a.Less(SingletonAddress))
}

func TestNodeAddressString(t *testing.T) {
	addr, _ := NewNodeAddress(-3, 42)
	require.Equal(t, "addr(scale=-3, point=42)", addr.String())
}
