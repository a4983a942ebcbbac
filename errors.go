// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import "errors"

// Sentinel errors for goko's public API. Wrap with fmt.Errorf("%w: ...")
// at call sites that can add context; compare with errors.Is.
var (
	// ErrInvalidScale indicates a scale index outside [MinScaleIndex, MaxScaleIndex].
	ErrInvalidScale = errors.New("goko: scale index out of range")

	// ErrInvalidPointIndex indicates a point index that does not fit in 55 bits.
	ErrInvalidPointIndex = errors.New("goko: point index out of range")

	// ErrReservedAddress indicates a (scale, point) pair colliding with the
	// singleton sentinel.
	ErrReservedAddress = errors.New("goko: address collides with singleton sentinel")

	// ErrInvalidConfig indicates malformed builder parameters, caught at
	// construction time (scale_base <= 1, min_res_index < -64, etc).
	ErrInvalidConfig = errors.New("goko: invalid builder configuration")

	// ErrEmptyCloud indicates a build was requested over a point cloud with
	// zero points.
	ErrEmptyCloud = errors.New("goko: point cloud is empty")

	// ErrPointCloud wraps an error returned by the external PointCloud or
	// Metric implementation during build or query.
	ErrPointCloud = errors.New("goko: point cloud access failed")

	// ErrIndexNotFound is returned by Tree.KnownPath when the requested
	// point index is not present in the tree's final-address map.
	ErrIndexNotFound = errors.New("goko: point index not present in tree")

	// ErrNoReader indicates a query was attempted against a builder/writer
	// that has not yet published a reader.
	ErrNoReader = errors.New("goko: tree has not been published")

	// ErrInvalidTree indicates a persistence-layer structural violation
	// (scale out of declared range, dangling child reference). A tree that
	// fails to load for this reason never exposes a reader.
	ErrInvalidTree = errors.New("goko: invalid persisted tree")

	// ErrBuildAborted indicates the parallel builder aborted due to a
	// fatal error in a split task; outstanding tasks were drained before
	// returning.
	ErrBuildAborted = errors.New("goko: build aborted")

	// ErrPluginNotInstalled indicates a query (e.g. Sample) requires a
	// plugin that has not been installed on the tree.
	ErrPluginNotInstalled = errors.New("goko: required plugin not installed")
)

// Debug, when true, enables additional invariant assertions on hot paths
// (the builder's coverage-count recount, metric non-negativity). Off by
// default.
var Debug = false

// debugAssert panics with msg if Debug is enabled and cond is false. It is
// a no-op when Debug is false, matching spec.md §7's guidance that metric
// and invariant violations are "undefined behavior... implementations
// should assert in debug builds" without imposing the cost on production
// callers.
func debugAssert(cond bool, msg string) {
	if Debug && !cond {
		panic("goko: assertion failed: " + msg)
	}
}
