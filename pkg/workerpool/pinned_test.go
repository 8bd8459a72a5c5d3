// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinnedPoolGrowsAndShrinks(t *testing.T) {
	p := NewPinnedPool(4, nil)
	assert.Equal(t, 4, p.MaxThreads())

	require.NoError(t, p.SetNumThreads(3))
	assert.Equal(t, 3, p.NumThreads())

	require.NoError(t, p.SetNumThreads(1))
	assert.Equal(t, 1, p.NumThreads())
}

func TestPinnedPoolRejectsOverMax(t *testing.T) {
	p := NewPinnedPool(2, nil)
	err := p.SetNumThreads(3)
	assert.Error(t, err)
}

func TestPinnedPoolSetAffinityRequiresAtLeastOneCore(t *testing.T) {
	p := NewPinnedPool(2, nil)
	require.NoError(t, p.SetNumThreads(2))
	err := p.SetAffinity(nil)
	assert.Error(t, err)
}

func TestPinnedPoolSetAffinityRoundRobinsAcrossFewerCoresThanWorkers(t *testing.T) {
	p := NewPinnedPool(4, nil)
	require.NoError(t, p.SetNumThreads(4))
	require.NoError(t, p.SetAffinity([]int{0, 1}))
	assert.Equal(t, 4, p.NumThreads())
}
