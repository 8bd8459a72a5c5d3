// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the per-client state the world scheduler tracks:
// identity, constraints, scalability graph, and the core set currently
// assigned to each client.
package registry

import (
	"sort"

	"github.com/jontk/core-arbiter/internal/resources"
)

// Client is one client's record, per spec.md §3.
type Client struct {
	PID     int32
	ID      resources.ClientID
	MinCores int
	MaxCores int

	DistributionHint float64
	ScalabilityGraph []float64

	OptimalCores int // latest optimizer output for this client

	AssignedCores []int // ordered ascending; invariant: len == NumAssignedCores()

	RetreatActive              bool
	ReinvadeNonblockingActive  bool
}

// NumAssignedCores returns the cardinality of AssignedCores — kept as a
// method rather than a separately-mutated cache field, so the invariant
// from spec.md §3 can never drift.
func (c *Client) NumAssignedCores() int {
	return len(c.AssignedCores)
}

// AddCore appends core to the assigned set and restores ascending order.
func (c *Client) AddCore(core int) {
	c.AssignedCores = append(c.AssignedCores, core)
	sort.Ints(c.AssignedCores)
}

// DropLowestCores removes the n lowest-id cores from the assigned set,
// returning the ones removed.
func (c *Client) DropLowestCores(n int) []int {
	if n > len(c.AssignedCores) {
		n = len(c.AssignedCores)
	}
	dropped := append([]int(nil), c.AssignedCores[:n]...)
	c.AssignedCores = c.AssignedCores[n:]
	return dropped
}

// DropHighestCores removes the n highest-id cores from the assigned set,
// returning the ones removed.
func (c *Client) DropHighestCores(n int) []int {
	if n > len(c.AssignedCores) {
		n = len(c.AssignedCores)
	}
	cut := len(c.AssignedCores) - n
	dropped := append([]int(nil), c.AssignedCores[cut:]...)
	c.AssignedCores = c.AssignedCores[:cut]
	return dropped
}

// SetAssignedCores replaces the assigned set wholesale, preserving the
// order given (used when adopting an acked affinity array verbatim, per
// spec.md §4.4 step 3).
func (c *Client) SetAssignedCores(cores []int) {
	c.AssignedCores = append([]int(nil), cores...)
}

// ClearAssignedCores empties the assigned set.
func (c *Client) ClearAssignedCores() {
	c.AssignedCores = nil
}
