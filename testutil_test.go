// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import "fmt"

// vectorCloud is a small in-memory PointCloud implementing VectorCloud and
// carrying labels, shared across this package's tests so every test builds
// over the same known dataset.
type vectorCloud struct {
	points [][]float32
	labels []string
}

func newVectorCloud(points [][]float32, labels []string) *vectorCloud {
	return &vectorCloud{points: points, labels: labels}
}

func (c *vectorCloud) Len() uint64 { return uint64(len(c.points)) }

func (c *vectorCloud) Dist(i, j uint64) (float64, error) {
	return EuclideanFloat32(c.points).Dist(i, j)
}

func (c *vectorCloud) Label(i uint64) (any, error) {
	if i >= uint64(len(c.labels)) || c.labels[i] == "" {
		return nil, nil
	}
	return c.labels[i], nil
}

func (c *vectorCloud) Vector(i uint64) ([]float32, error) {
	if i >= c.Len() {
		return nil, fmt.Errorf("vectorCloud: index %d out of range", i)
	}
	return c.points[i], nil
}

// gridCloud returns a deterministic n x n grid of 2D points (unit spacing),
// labeled "even"/"odd" by the sum of their grid coordinates, large enough
// to exercise several levels of tree splitting.
func gridCloud(n int) *vectorCloud {
	var points [][]float32
	var labels []string
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			points = append(points, []float32{float32(x), float32(y)})
			if (x+y)%2 == 0 {
				labels = append(labels, "even")
			} else {
				labels = append(labels, "odd")
			}
		}
	}
	return newVectorCloud(points, labels)
}

// buildTestTree builds a tree over a gridCloud(n) with a fixed RNG seed for
// reproducibility, failing the test immediately on any build error.
func buildTestTree(t interface{ Fatalf(string, ...any) }, n int, opts ...BuilderOption) (*Tree, *vectorCloud) {
	cloud := gridCloud(n)
	allOpts := append([]BuilderOption{WithRNGSeed(7)}, opts...)
	tree, err := Build(cloud, allOpts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree, cloud
}
