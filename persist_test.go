// Copyright (c) 2025 The Goko Authors
// SPDX-License-Identifier: MIT

package goko

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTripPreservesStructure(t *testing.T) {
	tree, cloud := buildTestTree(t, 5)

	var buf bytes.Buffer
	require.NoError(t, tree.Save(&buf))

	loaded, err := Load(&buf, cloud)
	require.NoError(t, err)

	require.Equal(t, tree.Root(), loaded.Root())
	require.Equal(t, tree.Summary(), loaded.Summary())

	for i := uint64(0); i < cloud.Len(); i++ {
		want, err := tree.KnownPath(i)
		require.NoError(t, err)
		got, err := loaded.KnownPath(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSaveLoadRoundTripPreservesKNN(t *testing.T) {
	tree, cloud := buildTestTree(t, 5)

	var buf bytes.Buffer
	require.NoError(t, tree.Save(&buf))
	loaded, err := Load(&buf, cloud)
	require.NoError(t, err)

	for _, q := range []uint64{0, 7, 15} {
		want, err := tree.KNN(q, 4)
		require.NoError(t, err)
		got, err := loaded.KNN(q, 4)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLoadRejectsGarbageInput(t *testing.T) {
	cloud := gridCloud(3)
	_, err := Load(strings.NewReader("not json"), cloud)
	require.Error(t, err)
}

func TestLoadRejectsDanglingChildReference(t *testing.T) {
	// A single root node declaring a child that doesn't exist in the
	// decoded node set.
	const doc = `{
		"scale_base": 2.0,
		"leaf_cutoff": 1,
		"min_res_index": -10,
		"use_singletons": true,
		"partition_type": 1,
		"root_scale": 0,
		"root_point": 0,
		"nodes": [
			{"scale": 0, "point": 0, "radius": 1, "coverage_count": 2,
			 "child_scale": [-1], "child_point": [0]}
		]
	}`
	cloud := gridCloud(2)
	_, err := Load(strings.NewReader(doc), cloud)
	require.ErrorIs(t, err, ErrInvalidTree)
}

func TestLoadRejectsMissingRoot(t *testing.T) {
	const doc = `{
		"scale_base": 2.0,
		"leaf_cutoff": 1,
		"min_res_index": -10,
		"use_singletons": true,
		"partition_type": 1,
		"root_scale": 5,
		"root_point": 0,
		"nodes": [
			{"scale": 0, "point": 0, "radius": 1, "coverage_count": 1}
		]
	}`
	cloud := gridCloud(2)
	_, err := Load(strings.NewReader(doc), cloud)
	require.ErrorIs(t, err, ErrInvalidTree)
}
