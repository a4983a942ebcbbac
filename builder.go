// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
)

// BuilderConfig holds the parameters governing tree construction
// (spec.md §4.1, §6). Use NewBuilderConfig with BuilderOptions to
// construct one; the zero value is not valid.
type BuilderConfig struct {
	ScaleBase     float64
	LeafCutoff    uint64
	MinResIndex   int
	UseSingletons bool
	PartitionType PartitionType
	Verbosity     int
	RNGSeed       uint64
	RNGSeedSet    bool
}

// BuilderOption configures a BuilderConfig, following the functional-options
// idiom (grounded on lvlath/builder's BuilderOption and dijkstra.Option).
type BuilderOption func(*BuilderConfig)

// WithScaleBase sets the exponential base defining ball radius at each
// scale (radius = scale_base^scale). Must be > 1.
func WithScaleBase(base float64) BuilderOption {
	return func(c *BuilderConfig) { c.ScaleBase = base }
}

// WithLeafCutoff sets the coverage count at or below which a node becomes
// a leaf of singletons rather than splitting further.
func WithLeafCutoff(n uint64) BuilderOption {
	return func(c *BuilderConfig) { c.LeafCutoff = n }
}

// WithMinResIndex sets the scale index below which every node is a leaf;
// a node at this scale can still split once, into children one scale
// below it. Must be >= MinScaleIndex.
func WithMinResIndex(idx int) BuilderOption {
	return func(c *BuilderConfig) { c.MinResIndex = idx }
}

// WithSingletons toggles whether single-point split-off clusters and
// degenerate one-point nested children are promoted to parent-attached
// singletons (true) or always materialized as their own node (false).
func WithSingletons(enabled bool) BuilderOption {
	return func(c *BuilderConfig) { c.UseSingletons = enabled }
}

// WithPartitionType selects the split strategy (PartitionFirst or
// PartitionNearest).
func WithPartitionType(pt PartitionType) BuilderOption {
	return func(c *BuilderConfig) { c.PartitionType = pt }
}

// WithVerbosity sets BuilderConfig.Verbosity. The builder does not read
// it and prints no progress output at any level.
func WithVerbosity(v int) BuilderOption {
	return func(c *BuilderConfig) { c.Verbosity = v }
}

// WithRNGSeed fixes the base seed used to derive every split's RNG,
// making a build reproducible regardless of goroutine scheduling order.
// Without this option the builder draws entropy from the OS.
func WithRNGSeed(seed uint64) BuilderOption {
	return func(c *BuilderConfig) {
		c.RNGSeed = seed
		c.RNGSeedSet = true
	}
}

// NewBuilderConfig applies opts over the documented defaults (spec.md §6):
// scale_base 2.0, leaf_cutoff 1, min_res_index -10, use_singletons true,
// partition_type Nearest, verbosity 0, no fixed seed.
func NewBuilderConfig(opts ...BuilderOption) BuilderConfig {
	c := BuilderConfig{
		ScaleBase:     2.0,
		LeafCutoff:    1,
		MinResIndex:   -10,
		UseSingletons: true,
		PartitionType: PartitionNearest,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// validate checks a BuilderConfig's fields against the constraints
// enforced at construction time (spec.md §4.1, §8).
func (c BuilderConfig) validate() error {
	if !(c.ScaleBase > 1) {
		return fmt.Errorf("%w: scale_base must be > 1, got %v", ErrInvalidConfig, c.ScaleBase)
	}
	if c.LeafCutoff < 1 {
		return fmt.Errorf("%w: leaf_cutoff must be >= 1, got %d", ErrInvalidConfig, c.LeafCutoff)
	}
	if c.MinResIndex < MinScaleIndex {
		return fmt.Errorf("%w: min_res_index must be >= %d, got %d", ErrInvalidConfig, MinScaleIndex, c.MinResIndex)
	}
	return nil
}

// splitTask is one unit of builder work: finalize the node centered at
// covered.center, scale scaleIndex, with parent parent (if hasParent).
type splitTask struct {
	parent    NodeAddress
	hasParent bool
	scaleIndex int
	covered    coveredSet
}

// nodeResult is what a completed splitTask sends back to the orchestrator.
type nodeResult struct {
	addr NodeAddress
	node *CoverNode
	err  error
}

// Build constructs a Tree over cloud using the parallel, channel-driven
// algorithm described in spec.md §4.1-4.3: a pool of worker goroutines
// consumes split tasks, each task finalizes one node and recursively
// schedules its own children as new tasks, and an orchestrator goroutine
// drains finished nodes from an unbounded channel until the count it has
// received equals an atomically-maintained total-node counter.
func Build(cloud PointCloud, opts ...BuilderOption) (*Tree, error) {
	cfg := NewBuilderConfig(opts...)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cloud.Len() == 0 {
		return nil, ErrEmptyCloud
	}

	root, err := newRootCoveredSet(cloud)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointCloud, err)
	}
	rootScaleIndex, err := rootScaleIndexFor(root.maxDistance(), cfg.ScaleBase)
	if err != nil {
		return nil, err
	}
	rootAddr, err := NewNodeAddress(rootScaleIndex, root.center)
	if err != nil {
		return nil, err
	}

	totalNodes := &atomic.Int64{}
	totalNodes.Store(1)

	resultsIn, resultsOut := newUnboundedNodeChan()
	sem := make(chan struct{}, max(1, runtime.GOMAXPROCS(0)))

	var dispatch func(splitTask)
	dispatch = func(task splitTask) {
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			processSplitTask(cfg, cloud, task, resultsIn, totalNodes, dispatch)
		}()
	}
	dispatch(splitTask{scaleIndex: rootScaleIndex, covered: root})

	layers := map[int]*CoverLayer{}
	finalAddr := make(map[uint64]NodeAddress, cloud.Len())
	var buildErr error
	inserted := int64(0)

	for res := range resultsOut {
		inserted++
		if res.err != nil {
			if buildErr == nil {
				buildErr = res.err
			}
		} else if buildErr == nil {
			installFinalizedNode(layers, finalAddr, res)
		}
		if inserted == totalNodes.Load() {
			break
		}
	}
	close(resultsIn) //nolint:errcheck // unbounded-channel helper goroutine exits on close

	if buildErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildAborted, buildErr)
	}

	// Publish every layer bottom-up (leaves first): spec.md §5 guarantees
	// "no reader ever sees a child address before its node exists", which
	// only holds if a parent layer's refresh happens after its children's
	// layers are already visible. Each layer is refreshed twice so that
	// both of its internal maps converge to the same published contents
	// before any reader can observe it (mirrors the builder committing
	// its publication primitive twice at the end of a build).
	scales := make([]int, 0, len(layers))
	for s := range layers {
		scales = append(scales, s)
	}
	sort.Ints(scales)
	for _, s := range scales {
		layers[s].refresh()
		layers[s].refresh()
	}

	return &Tree{
		cfg:            cfg,
		cloud:          cloud,
		layers:         layers,
		rootAddr:       rootAddr,
		finalAddresses: finalAddr,
		pluginMu:       make(chan struct{}, 1),
	}, nil
}

// installFinalizedNode records a completed node into its layer (creating
// the layer on first use) and updates the final-address map for every
// point it terminates (its singletons, and its own center if it is a
// leaf). Only ever called from the single orchestrator goroutine, so no
// synchronization is needed here despite layers being mutated.
func installFinalizedNode(layers map[int]*CoverLayer, finalAddr map[uint64]NodeAddress, res nodeResult) {
	scale := res.addr.Scale()
	l := layers[scale]
	if l == nil {
		l = newCoverLayer(scale)
		layers[scale] = l
	}
	l.set(res.addr.PointIndex(), res.node)

	for _, s := range res.node.Singletons {
		finalAddr[s] = res.addr
	}
	if res.node.IsLeaf() {
		finalAddr[res.addr.PointIndex()] = res.addr
	}
}

// processSplitTask finalizes one node and recursively dispatches its
// children, implementing the per-split decision sequence of spec.md §4.1:
// leaf cutoff, next-scale computation, partition dispatch, singleton
// promotion, nested-child requirement, and degenerate collapse.
func processSplitTask(cfg BuilderConfig, cloud PointCloud, task splitTask, out chan<- nodeResult, totalNodes *atomic.Int64, dispatch func(splitTask)) {
	addr, err := NewNodeAddress(task.scaleIndex, task.covered.center)
	if err != nil {
		out <- nodeResult{err: err}
		return
	}

	node := &CoverNode{Address: addr, Radius: float32(task.covered.maxDistance())}
	if task.hasParent {
		node.ParentAddress = task.parent
		node.HasParent = true
	}

	coverage := task.covered.coverage()
	node.CoverageCount = coverage

	if coverage <= cfg.LeafCutoff || task.scaleIndex < cfg.MinResIndex {
		node.Singletons = task.covered.indices()
		out <- nodeResult{addr: addr, node: node}
		return
	}

	radius := task.covered.maxDistance()
	// next_scale_index = min(scale_index-1, max(by_radius, min_res_index))
	// (builders.rs's BuilderNode::split): the min_res_index floor applies to
	// the radius-derived term only, so a node already at min_res_index can
	// still take one further scale_index-1 step below it before the leaf
	// check above catches its children next round.
	byRadius := scaleIndexForRadius(radius, cfg.ScaleBase)
	if byRadius < cfg.MinResIndex {
		byRadius = cfg.MinResIndex
	}
	nextScaleIndex := task.scaleIndex - 1
	if byRadius < nextScaleIndex {
		nextScaleIndex = byRadius
	}
	nextScale := math.Pow(cfg.ScaleBase, float64(nextScaleIndex))

	rng := deriveSplitRNG(cfg.RNGSeed, cfg.RNGSeedSet, task.covered.center)
	nested, splitOffs, err := split(cfg.PartitionType, task.covered, nextScale, cloud, rng)
	if err != nil {
		out <- nodeResult{err: err}
		return
	}

	var splitOffTasks []splitTask
	var splitOffAddrs []NodeAddress
	for _, so := range splitOffs {
		if so.coverage() == 1 && cfg.UseSingletons {
			node.Singletons = append(node.Singletons, so.center)
			continue
		}
		childAddr, err := NewNodeAddress(nextScaleIndex, so.center)
		if err != nil {
			out <- nodeResult{err: err}
			return
		}
		splitOffAddrs = append(splitOffAddrs, childAddr)
		splitOffTasks = append(splitOffTasks, splitTask{parent: addr, hasParent: true, scaleIndex: nextScaleIndex, covered: so})
		totalNodes.Add(1)
	}

	var childTasks []splitTask
	nestedIsSingleton := nested.coverage() == 1 && cfg.UseSingletons
	if len(splitOffAddrs) > 0 || !nestedIsSingleton {
		nestedAddr, err := NewNodeAddress(nextScaleIndex, nested.center)
		if err != nil {
			out <- nodeResult{err: err}
			return
		}
		node.Children = append([]NodeAddress{nestedAddr}, splitOffAddrs...)
		childTasks = append(childTasks, splitTask{parent: addr, hasParent: true, scaleIndex: nextScaleIndex, covered: nested})
		totalNodes.Add(1)
		childTasks = append(childTasks, splitOffTasks...)
	} else {
		node.Singletons = append(node.Singletons, nested.center)
	}

	// Degenerate collapse (spec.md §4.1 step 6): a single surviving child
	// covering exactly one point is folded back into the parent as a
	// singleton regardless of use_singletons, matching the unconditional
	// collapse in the reference builder this algorithm is grounded on.
	if len(childTasks) == 1 && childTasks[0].covered.coverage() == 1 {
		only := childTasks[0]
		node.Children = nil
		totalNodes.Add(-1)
		node.Singletons = append(node.Singletons, only.covered.indices()...)
		childTasks = nil
	}

	if Debug {
		recount := uint64(len(node.Singletons))
		for _, ct := range childTasks {
			recount += ct.covered.coverage()
		}
		debugAssert(recount == node.CoverageCount, "coverage count disagrees with singletons plus children")
	}

	out <- nodeResult{addr: addr, node: node}
	for _, ct := range childTasks {
		dispatch(ct)
	}
}

// rootScaleIndexFor picks the smallest scale index whose ball radius
// covers maxDistance, the span of the whole cloud from its root center.
func rootScaleIndexFor(maxDistance, base float64) (int, error) {
	if maxDistance <= 0 {
		return 0, nil
	}
	idx := int(math.Ceil(math.Log(maxDistance) / math.Log(base)))
	if idx < MinScaleIndex {
		idx = MinScaleIndex
	}
	if idx > MaxScaleIndex {
		return 0, fmt.Errorf("%w: point cloud diameter requires scale index %d, exceeds max %d", ErrInvalidConfig, idx, MaxScaleIndex)
	}
	return idx, nil
}

// newUnboundedNodeChan returns a (send, receive) pair backed by a growing
// slice buffer, since the number of outstanding split tasks is bounded
// only by total node count (which is not known up front) and Go channels
// are fixed-capacity. Closing the send side drains any buffered results
// and then closes the receive side.
func newUnboundedNodeChan() (chan<- nodeResult, <-chan nodeResult) {
	in := make(chan nodeResult)
	out := make(chan nodeResult)
	go func() {
		var buf []nodeResult
		for {
			if len(buf) == 0 {
				v, ok := <-in
				if !ok {
					close(out)
					return
				}
				buf = append(buf, v)
				continue
			}
			select {
			case v, ok := <-in:
				if !ok {
					for _, b := range buf {
						out <- b
					}
					close(out)
					return
				}
				buf = append(buf, v)
			case out <- buf[0]:
				buf = buf[1:]
			}
		}
	}()
	return in, out
}

