// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// logEntry records a single writer-side mutation so it can be replayed
// onto the demoted map during refresh (spec.md §4.3).
type logEntry struct {
	point uint64
	node  *CoverNode
}

// CoverLayer is the per-scale map from point index to CoverNode, published
// through a dual-map, atomic-pointer, epoch-wait discipline: one map is
// the reader map (exposed via an atomic pointer, read without locks), the
// other is the writer map (mutated by the owner and recorded in an
// operation log). Refresh swaps the pointer, waits for stragglers still
// holding the old reader map, then replays the log onto it so both copies
// converge before the next refresh.
//
// This generalizes the lock-free-read / mutex-guarded-write pattern from
// bart's SyncTable (atomic.Pointer + sync.Mutex) from "swap the whole
// table" to "swap one map, then catch the other one up via log replay",
// matching the original evmap-style writer this reimplements.
type CoverLayer struct {
	scale int

	maps      [2]map[uint64]*CoverNode
	readerIdx atomic.Int32 // which of maps[0]/maps[1] is currently the reader view
	active    [2]atomic.Int64

	writerMu sync.Mutex // serializes writer-side mutation and refresh
	log      []logEntry
}

// newCoverLayer creates an empty layer for the given scale index.
func newCoverLayer(scale int) *CoverLayer {
	l := &CoverLayer{
		scale: scale,
		maps:  [2]map[uint64]*CoverNode{{}, {}},
	}
	return l
}

// Scale returns the scale index this layer holds nodes for.
func (l *CoverLayer) Scale() int { return l.scale }

// Get performs a lock-free read of the node centered at point, if any.
func (l *CoverLayer) Get(point uint64) (*CoverNode, bool) {
	idx := l.readerIdx.Load()
	l.active[idx].Add(1)
	m := l.maps[idx]
	n, ok := m[point]
	l.active[idx].Add(-1)
	return n, ok
}

// Len reports the number of nodes currently visible to readers. Like any
// lock-free read, it may be stale by the time it returns if a refresh is
// in flight.
func (l *CoverLayer) Len() int {
	idx := l.readerIdx.Load()
	l.active[idx].Add(1)
	n := len(l.maps[idx])
	l.active[idx].Add(-1)
	return n
}

// Range calls fn for every node currently visible to readers, in
// unspecified order. fn must not mutate l.
func (l *CoverLayer) Range(fn func(point uint64, n *CoverNode)) {
	idx := l.readerIdx.Load()
	l.active[idx].Add(1)
	for p, n := range l.maps[idx] {
		fn(p, n)
	}
	l.active[idx].Add(-1)
}

// set installs or replaces the node at point in the writer map and
// records the mutation in the operation log. Callers must hold no
// external lock; set takes l.writerMu itself. This is the only mutation
// path: the builder uses it to install finalized nodes, and plugin
// installation uses it (via a cloned node) to publish annotated copies.
func (l *CoverLayer) set(point uint64, n *CoverNode) {
	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	widx := 1 - l.readerIdx.Load()
	l.maps[widx][point] = n
	l.log = append(l.log, logEntry{point: point, node: n})
}

// refresh publishes the writer map's contents to readers and catches the
// demoted map up via log replay (spec.md §4.3):
//
//  1. Swap the atomic index so the writer map becomes the new reader map.
//  2. Busy-wait (yielding periodically) for any reader still holding the
//     old reader map to finish.
//  3. Replay the operation log onto what is now the writer map.
//  4. Clear the log.
//
// Only one goroutine may call refresh on a given layer at a time; callers
// serialize this externally (the tree writer owns publication).
func (l *CoverLayer) refresh() {
	l.writerMu.Lock()
	oldIdx := l.readerIdx.Load()
	newIdx := 1 - oldIdx
	l.readerIdx.Store(newIdx)

	for l.active[oldIdx].Load() > 0 {
		runtime.Gosched()
	}

	for _, e := range l.log {
		l.maps[oldIdx][e.point] = e.node
	}
	l.log = l.log[:0]
	l.writerMu.Unlock()
}
