// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"container/heap"
	"math"
)

// knnHeapEntry is one record tracked by a KNN search's priority queues:
// a node or singleton address paired with its actual distance to the
// query and the lower bound used to order unexplored candidates
// (spec.md §4.5 "Query heaps").
type knnHeapEntry struct {
	addr         NodeAddress
	scale        int
	actualDist   float64
	estimatedMin float64 // max(0, actualDist - scale_base^scale)
}

// less provides the deterministic, lexicographic ordering shared by every
// heap in a KNN search: (estimated_min_dist, scale, actual_dist), with
// ties broken by address so repeated queries over an unchanged tree
// return identical results regardless of insertion order.
func (e knnHeapEntry) less(o knnHeapEntry) bool {
	if e.estimatedMin != o.estimatedMin {
		return e.estimatedMin < o.estimatedMin
	}
	if e.scale != o.scale {
		return e.scale < o.scale
	}
	if e.actualDist != o.actualDist {
		return e.actualDist < o.actualDist
	}
	return e.addr.Less(o.addr)
}

// candidateQueue is a min-heap of knnHeapEntry ordered by the shared
// lexicographic key, used for both the child queue and the singleton
// queue of a KNN search (spec.md §4.5). It implements container/heap's
// Interface, following the nodePQ idiom.
type candidateQueue []knnHeapEntry

func (q candidateQueue) Len() int            { return len(q) }
func (q candidateQueue) Less(i, j int) bool  { return q[i].less(q[j]) }
func (q candidateQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *candidateQueue) Push(x interface{}) { *q = append(*q, x.(knnHeapEntry)) }
func (q *candidateQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// resultEntry is one member of a KNN search's bounded max-heap of best
// results found so far.
type resultEntry struct {
	point uint64
	dist  float64
}

// resultHeap is a bounded max-heap over resultEntry, by distance
// descending, so Pop removes the currently-furthest kept result when a
// closer point is found and the heap must shrink back to k.
type resultHeap []resultEntry

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(resultEntry)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// worst returns the current worst (largest) kept distance, or +Inf if
// the result set is empty. It does not know k: callers check whether the
// result set is full before pruning against it.
func (h resultHeap) worst() float64 {
	if len(h) == 0 {
		return math.Inf(1)
	}
	return h[0].dist
}

// Result is one entry in a KNN query's result set, nearest first.
type Result struct {
	Point    uint64
	Distance float64
}

// KNN returns the k nearest points to query, nearest first, using paired
// priority heaps and lower-bound pruning (spec.md §4.5): a bounded
// max-heap of the best k results found so far, a min-heap of unexplored
// child nodes, and a min-heap of unexplored singletons, both ordered by
// estimated lower bound so the search always expands its most promising
// unresolved candidate next and stops once every remaining candidate's
// lower bound exceeds the current worst kept result.
func (t *Tree) KNN(query uint64, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	root := t.RootNode()
	d0, err := t.cloud.Dist(query, root.Address.PointIndex())
	if err != nil {
		return nil, err
	}

	results := &resultHeap{}
	seen := make(map[uint64]bool)
	pushResult := func(point uint64, dist float64) {
		if seen[point] {
			return
		}
		seen[point] = true
		heap.Push(results, resultEntry{point: point, dist: dist})
		if results.Len() > k {
			heap.Pop(results)
		}
	}
	pushResult(root.Address.PointIndex(), d0)

	children := &candidateQueue{}
	singletons := &candidateQueue{}
	if err := t.pushNodeCandidates(children, singletons, root, query); err != nil {
		return nil, err
	}

	for children.Len() > 0 || singletons.Len() > 0 {
		worst := results.worst()

		var next knnHeapEntry
		fromChildren := false
		switch {
		case children.Len() == 0:
			next = (*singletons)[0]
		case singletons.Len() == 0:
			next, fromChildren = (*children)[0], true
		case (*children)[0].less((*singletons)[0]):
			next, fromChildren = (*children)[0], true
		default:
			next = (*singletons)[0]
		}

		if results.Len() >= k && next.estimatedMin > worst {
			break
		}

		if fromChildren {
			heap.Pop(children)
			child, ok := t.Node(next.addr)
			if !ok {
				return nil, ErrInvalidTree
			}
			pushResult(child.Address.PointIndex(), next.actualDist)
			if err := t.pushNodeCandidates(children, singletons, child, query); err != nil {
				return nil, err
			}
		} else {
			heap.Pop(singletons)
			pushResult(next.addr.PointIndex(), next.actualDist)
		}
	}

	out := make([]Result, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = Result{Point: (*results)[0].point, Distance: (*results)[0].dist}
		heap.Pop(results)
	}
	return out, nil
}

// RoutingKNN returns the k nearest node centers to query, nearest first,
// never consulting singletons (spec.md §4.6 "Routing k-NN is the same but
// never consults singletons; it returns k nearest centers"). It shares
// KNN's single candidate min-heap and lower-bound pruning, minus the
// singleton queue.
func (t *Tree) RoutingKNN(query uint64, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	root := t.RootNode()
	d0, err := t.cloud.Dist(query, root.Address.PointIndex())
	if err != nil {
		return nil, err
	}

	results := &resultHeap{}
	seen := make(map[uint64]bool)
	pushResult := func(point uint64, dist float64) {
		if seen[point] {
			return
		}
		seen[point] = true
		heap.Push(results, resultEntry{point: point, dist: dist})
		if results.Len() > k {
			heap.Pop(results)
		}
	}
	pushResult(root.Address.PointIndex(), d0)

	children := &candidateQueue{}
	if err := t.pushChildCandidates(children, root, query); err != nil {
		return nil, err
	}

	for children.Len() > 0 {
		worst := results.worst()
		next := (*children)[0]
		if results.Len() >= k && next.estimatedMin > worst {
			break
		}

		heap.Pop(children)
		child, ok := t.Node(next.addr)
		if !ok {
			return nil, ErrInvalidTree
		}
		pushResult(child.Address.PointIndex(), next.actualDist)
		if err := t.pushChildCandidates(children, child, query); err != nil {
			return nil, err
		}
	}

	out := make([]Result, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = Result{Point: (*results)[0].point, Distance: (*results)[0].dist}
		heap.Pop(results)
	}
	return out, nil
}

// pushChildCandidates computes the query's distance to every child of n and
// pushes a lower-bound-keyed entry for each onto children, shared by both
// KNN (which also pushes singletons) and RoutingKNN (which never does).
func (t *Tree) pushChildCandidates(children *candidateQueue, n *CoverNode, query uint64) error {
	base := t.cfg.ScaleBase
	for _, addr := range n.Children {
		d, err := t.cloud.Dist(query, addr.PointIndex())
		if err != nil {
			return err
		}
		heap.Push(children, knnHeapEntry{
			addr:         addr,
			scale:        addr.Scale(),
			actualDist:   d,
			estimatedMin: lowerBound(d, addr.Scale(), base),
		})
	}
	return nil
}

// pushNodeCandidates computes the query's distance to every child and
// singleton of n and pushes a lower-bound-keyed entry for each onto the
// appropriate queue (spec.md §4.5 "Query heaps" / "Pruning rule").
func (t *Tree) pushNodeCandidates(children, singletons *candidateQueue, n *CoverNode, query uint64) error {
	if err := t.pushChildCandidates(children, n, query); err != nil {
		return err
	}
	for _, p := range n.Singletons {
		if p == n.Address.PointIndex() {
			continue
		}
		d, err := t.cloud.Dist(query, p)
		if err != nil {
			return err
		}
		addr, err := NewNodeAddress(n.Address.Scale(), p)
		if err != nil {
			// A singleton point can legitimately collide with the
			// reserved sentinel only in pathological configurations;
			// fall back to the parent's own scale/point pairing is not
			// possible, so surface the error untouched.
			return err
		}
		heap.Push(singletons, knnHeapEntry{
			addr:         addr,
			scale:        n.Address.Scale(),
			actualDist:   d,
			estimatedMin: d, // singletons have no sub-radius to subtract
		})
	}
	return nil
}

// lowerBound computes max(0, actualDist - scale_base^scale), the
// tightest lower bound on the distance from query to any point still
// covered by the ball at (scale, center) (spec.md §4.5 "Pruning rule").
func lowerBound(actualDist float64, scale int, base float64) float64 {
	radius := scaleRadius(base, scale)
	if actualDist <= radius {
		return 0
	}
	return actualDist - radius
}
