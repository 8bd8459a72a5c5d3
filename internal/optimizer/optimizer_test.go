// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSingleClientTakesWholeMachine(t *testing.T) {
	clients := []Client{{MinCores: 1, MaxCores: 8}}
	got := Compute(clients, 4)
	assert.Equal(t, []int{4}, got)
}

func TestComputeRespectsMaxCores(t *testing.T) {
	clients := []Client{
		{MinCores: 1, MaxCores: 2},
		{MinCores: 1, MaxCores: 8},
	}
	got := Compute(clients, 4)
	assert.Equal(t, []int{2, 2}, got)
	assert.LessOrEqual(t, got[0], 2)
}

func TestComputeReservesMinCores(t *testing.T) {
	clients := []Client{
		{MinCores: 3, MaxCores: 4},
		{MinCores: 1, MaxCores: 8},
	}
	got := Compute(clients, 4)
	assert.GreaterOrEqual(t, got[0], 3)
	assert.Equal(t, 4, got[0]+got[1])
}

func TestComputeScalabilityBiasFavorsNearLinearClient(t *testing.T) {
	// Client A scales sublinearly past 2 cores; client B scales almost
	// linearly throughout. With 4 cores to hand out beyond the 1-core
	// reservation, the remaining 2 should go to B.
	clients := []Client{
		{MinCores: 1, MaxCores: 4, ScalabilityGraph: []float64{1.0, 1.5, 1.6, 1.65}},
		{MinCores: 1, MaxCores: 4, ScalabilityGraph: []float64{1.0, 1.9, 2.8, 3.7}},
	}
	got := Compute(clients, 4)
	assert.Equal(t, 4, got[0]+got[1])
	assert.Greater(t, got[1], got[0])
}

func TestComputeDistributionHintGatesEligibility(t *testing.T) {
	// B's hint caps its fair share at 1 core even though it would
	// otherwise win every marginal-gain comparison against A.
	clients := []Client{
		{MinCores: 1, MaxCores: 4, DistributionHint: 3, ScalabilityGraph: []float64{1.0, 1.2, 1.3, 1.35}},
		{MinCores: 1, MaxCores: 4, DistributionHint: 1, ScalabilityGraph: []float64{1.0, 2.0, 3.0, 4.0}},
	}
	got := Compute(clients, 4)
	assert.Equal(t, 1, got[1])
	assert.Equal(t, 3, got[0])
}

func TestComputeStopsWhenNoPositiveGainRemains(t *testing.T) {
	// Graph plateaus immediately: no marginal gain beyond 1 core, so
	// extra cores stay unassigned to this client even with headroom.
	clients := []Client{
		{MinCores: 1, MaxCores: 4, ScalabilityGraph: []float64{1.0}},
	}
	got := Compute(clients, 4)
	assert.Equal(t, []int{1}, got)
}

func TestComputeBoundsInvariant(t *testing.T) {
	clients := []Client{
		{MinCores: 2, MaxCores: 3},
		{MinCores: 1, MaxCores: 6},
		{MinCores: 1, MaxCores: 1},
	}
	maxCores := 8
	got := Compute(clients, maxCores)
	total := 0
	for i, c := range clients {
		assert.GreaterOrEqual(t, got[i], 1)
		assert.LessOrEqual(t, got[i], c.MaxCores)
		total += got[i]
	}
	assert.LessOrEqual(t, total, maxCores)
}

func TestComputeMoreClientsThanCoresNeverOversubscribes(t *testing.T) {
	clients := []Client{
		{MinCores: 1, MaxCores: 1},
		{MinCores: 1, MaxCores: 1},
		{MinCores: 1, MaxCores: 1},
	}
	got := Compute(clients, 2)
	total := 0
	for _, v := range got {
		total += v
	}
	assert.LessOrEqual(t, total, 2)
}

func TestComputeEmptyClientsReturnsEmpty(t *testing.T) {
	got := Compute(nil, 8)
	assert.Empty(t, got)
}

func TestScalabilityEmptyGraphIsLinearUpToMax(t *testing.T) {
	c := Client{}
	assert.Equal(t, 3.0, Scalability(c, 3, 8))
	assert.Equal(t, 0.0, Scalability(c, 9, 8))
}

func TestScalabilityPlateausAtLastEntry(t *testing.T) {
	c := Client{ScalabilityGraph: []float64{1.0, 1.8, 2.4}}
	assert.Equal(t, 2.4, Scalability(c, 3, 8))
	assert.Equal(t, 2.4, Scalability(c, 10, 8))
}
