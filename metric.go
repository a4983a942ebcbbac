// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
)

// Metric is the external contract for a distance function over a
// PointCloud's points. Implementations must guarantee:
//
//   - dist(x, y) >= 0
//   - dist(x, y) == dist(y, x)
//   - dist(x, y) == 0 iff x and y are the same point
//
// goko does not verify the triangle inequality; correctness of k-NN
// results depends on the metric satisfying it (spec.md Non-goals). A
// metric that returns NaN or a negative value is a contract violation;
// goko asserts against it only when Debug is enabled.
type Metric interface {
	// Dist returns the distance between the points at indices i and j.
	Dist(i, j uint64) (float64, error)
}

// PointCloud is the external collaborator supplying points, a metric, and
// point-count bookkeeping. goko treats points as opaque values accessed
// only through Metric; PointCloud's job is to make that metric available
// over a fixed, immutable universe of point indices.
//
// A PointCloud must be immutable for the lifetime of any Tree built over
// it (spec.md §5, Shared-resource policy): goko never mutates it and
// assumes no other caller does either while a Tree is alive.
type PointCloud interface {
	Metric

	// Len returns the number of points in the cloud. Point indices are
	// 0..Len()-1.
	Len() uint64

	// Label returns an opaque metadata summary for point i, or nil if the
	// cloud carries no label information. Used only by the labels plugin.
	Label(i uint64) (any, error)
}

// MetricFunc adapts a plain distance function to the Metric interface.
type MetricFunc func(i, j uint64) (float64, error)

// Dist implements Metric.
func (f MetricFunc) Dist(i, j uint64) (float64, error) { return f(i, j) }

// SliceCloud is a minimal in-memory PointCloud over a slice of opaque rows
// and a caller-supplied distance function. It is the one concrete
// PointCloud goko ships; loaders, memory-mapped sources, and Python
// bindings are external collaborators per spec.md §1.
type SliceCloud[T any] struct {
	Points []T
	DistFn func(a, b T) (float64, error)
	Labels []any // optional; nil or shorter than Points means "no label"
}

// NewSliceCloud constructs a SliceCloud from rows and a distance function.
func NewSliceCloud[T any](points []T, dist func(a, b T) (float64, error)) *SliceCloud[T] {
	return &SliceCloud[T]{Points: points, DistFn: dist}
}

// Len implements PointCloud.
func (c *SliceCloud[T]) Len() uint64 { return uint64(len(c.Points)) }

// Dist implements Metric.
func (c *SliceCloud[T]) Dist(i, j uint64) (float64, error) {
	if i >= c.Len() || j >= c.Len() {
		return 0, fmt.Errorf("%w: index out of range", ErrPointCloud)
	}
	d, err := c.DistFn(c.Points[i], c.Points[j])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPointCloud, err)
	}
	debugAssert(d >= 0, "metric returned negative distance")
	return d, nil
}

// Label implements PointCloud.
func (c *SliceCloud[T]) Label(i uint64) (any, error) {
	if i >= c.Len() {
		return nil, fmt.Errorf("%w: index out of range", ErrPointCloud)
	}
	if int(i) >= len(c.Labels) {
		return nil, nil
	}
	return c.Labels[i], nil
}

// EuclideanFloat32 is a ready-made Metric for [][]float32 rows, convenient
// for tests and examples.
func EuclideanFloat32(rows [][]float32) MetricFunc {
	return func(i, j uint64) (float64, error) {
		a, b := rows[i], rows[j]
		if len(a) != len(b) {
			return 0, fmt.Errorf("goko: mismatched dimension %d vs %d", len(a), len(b))
		}
		var sum float64
		for k := range a {
			d := float64(a[k]) - float64(b[k])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	}
}
