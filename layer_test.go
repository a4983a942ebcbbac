// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoverLayerSetVisibleOnlyAfterRefresh(t *testing.T) {
	l := newCoverLayer(-1)
	addr, err := NewNodeAddress(-1, 5)
	require.NoError(t, err)

	l.set(5, &CoverNode{Address: addr})
	_, ok := l.Get(5)
	require.False(t, ok, "set must not be visible before refresh")

	l.refresh()
	n, ok := l.Get(5)
	require.True(t, ok)
	require.Equal(t, addr, n.Address)
}

func TestCoverLayerRefreshTwiceConvergesBothMaps(t *testing.T) {
	l := newCoverLayer(0)
	addr, _ := NewNodeAddress(0, 1)
	l.set(1, &CoverNode{Address: addr})
	l.refresh()
	l.refresh()

	require.Equal(t, l.maps[0], l.maps[1])
}

func TestCoverLayerLenAndRange(t *testing.T) {
	l := newCoverLayer(0)
	for i := uint64(0); i < 3; i++ {
		addr, _ := NewNodeAddress(0, i)
		l.set(i, &CoverNode{Address: addr})
	}
	l.refresh()
	require.Equal(t, 3, l.Len())

	seen := make(map[uint64]bool)
	l.Range(func(point uint64, n *CoverNode) { seen[point] = true })
	require.Len(t, seen, 3)
}

func TestCoverLayerConcurrentReadsDuringRefresh(t *testing.T) {
	l := newCoverLayer(0)
	for i := uint64(0); i < 50; i++ {
		addr, _ := NewNodeAddress(0, i)
		l.set(i, &CoverNode{Address: addr})
	}
	l.refresh()
	l.refresh()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					l.Range(func(uint64, *CoverNode) {})
				}
			}
		}()
	}

	for i := uint64(50); i < 100; i++ {
		addr, _ := NewNodeAddress(0, i)
		l.set(i, &CoverNode{Address: addr})
		l.refresh()
	}
	close(stop)
	wg.Wait()
	require.Equal(t, 100, l.Len())
}
