// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"runtime"
	"sync"
)

// BulkKNNRequest pairs a query point with the k to search for, for use
// with BulkKNN.
type BulkKNNRequest struct {
	Query uint64
	K     int
}

// BulkKNNResult pairs a BulkKNNRequest's index with its outcome.
type BulkKNNResult struct {
	Index   int
	Results []Result
	Err     error
}

// BulkKNN runs KNN for every request concurrently over a worker pool sized
// to GOMAXPROCS, since every query is independent and the tree's read path
// is lock-free (spec.md §4.6 "Bulk queries"). Results preserve the input
// order.
func (t *Tree) BulkKNN(requests []BulkKNNRequest) []BulkKNNResult {
	out := make([]BulkKNNResult, len(requests))
	if len(requests) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(requests) {
		workers = len(requests)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := t.KNN(requests[i].Query, requests[i].K)
				out[i] = BulkKNNResult{Index: i, Results: res, Err: err}
			}
		}()
	}
	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// BulkRoutingKNN runs RoutingKNN for every request concurrently, mirroring
// BulkKNN's worker-pool fan-out (spec.md §4.6).
func (t *Tree) BulkRoutingKNN(requests []BulkKNNRequest) []BulkKNNResult {
	out := make([]BulkKNNResult, len(requests))
	if len(requests) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(requests) {
		workers = len(requests)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := t.RoutingKNN(requests[i].Query, requests[i].K)
				out[i] = BulkKNNResult{Index: i, Results: res, Err: err}
			}
		}()
	}
	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// BulkPath runs Path for every query concurrently, mirroring BulkKNN's
// worker-pool fan-out.
func (t *Tree) BulkPath(queries []uint64) [][]PathStep {
	out := make([][]PathStep, len(queries))
	if len(queries) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(queries) {
		workers = len(queries)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				steps, err := t.Path(queries[i])
				if err != nil {
					out[i] = nil
					continue
				}
				out[i] = steps
			}
		}()
	}
	for i := range queries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}
