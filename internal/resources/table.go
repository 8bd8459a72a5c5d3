// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resources implements the core resource table: a fixed-size
// vector indexed by physical core id, each slot holding either FreeCore
// or the identity of the client that owns it.
package resources

import "fmt"

// ClientID identifies a client record. FreeCore is never a valid client
// id; client ids are assigned starting at 1 and are never reused.
type ClientID int64

// FreeCore marks a resource table slot as unowned.
const FreeCore ClientID = 0

// Table is the server's view of which client, if any, owns each core.
type Table struct {
	owners []ClientID
}

// NewTable allocates a table of maxCores slots, all initially free.
func NewTable(maxCores int) *Table {
	return &Table{owners: make([]ClientID, maxCores)}
}

// Len returns the number of cores in the table.
func (t *Table) Len() int {
	return len(t.owners)
}

// OwnerOf returns the client owning core, or FreeCore if it is unowned
// or out of range.
func (t *Table) OwnerOf(core int) ClientID {
	if core < 0 || core >= len(t.owners) {
		return FreeCore
	}
	return t.owners[core]
}

// FreeCores returns the number of unowned cores.
func (t *Table) FreeCores() int {
	n := 0
	for _, o := range t.owners {
		if o == FreeCore {
			n++
		}
	}
	return n
}

// FreeCoresHighToLow returns the ids of free cores in descending order,
// used by the synchronous reconciler (spec.md §4.3).
func (t *Table) FreeCoresHighToLow() []int {
	var out []int
	for c := len(t.owners) - 1; c >= 0; c-- {
		if t.owners[c] == FreeCore {
			out = append(out, c)
		}
	}
	return out
}

// FreeCoresLowToHigh returns the ids of free cores in ascending order,
// used by the asynchronous reconciler (spec.md §4.4).
func (t *Table) FreeCoresLowToHigh() []int {
	var out []int
	for c := 0; c < len(t.owners); c++ {
		if t.owners[c] == FreeCore {
			out = append(out, c)
		}
	}
	return out
}

// Claim assigns core to owner. It is a resource invariant violation,
// fatal per spec.md §7, to claim a core that is not free or that does
// not exist in this table — the latter can only happen from a
// malformed or malicious client-reported affinity set, never from the
// dispatcher's own bookkeeping.
func (t *Table) Claim(core int, owner ClientID) error {
	if core < 0 || core >= len(t.owners) {
		return fmt.Errorf("resources: core %d out of range [0,%d)", core, len(t.owners))
	}
	if t.owners[core] != FreeCore {
		return fmt.Errorf("resources: core %d already owned by client %d, cannot assign to %d", core, t.owners[core], owner)
	}
	t.owners[core] = owner
	return nil
}

// Release frees core, which must currently be owned by owner. Releasing
// a core not owned by owner, or one outside the table, is a resource
// invariant violation.
func (t *Table) Release(core int, owner ClientID) error {
	if core < 0 || core >= len(t.owners) {
		return fmt.Errorf("resources: core %d out of range [0,%d)", core, len(t.owners))
	}
	if t.owners[core] != owner {
		return fmt.Errorf("resources: core %d owned by %d, not %d, cannot release", core, t.owners[core], owner)
	}
	t.owners[core] = FreeCore
	return nil
}

// ReleaseAll frees every core currently owned by owner, e.g. on shutdown.
func (t *Table) ReleaseAll(owner ClientID) {
	for c, o := range t.owners {
		if o == owner {
			t.owners[c] = FreeCore
		}
	}
}

// Snapshot returns a copy of the table's owner vector, safe for the
// caller to retain (used by the inspector to publish a point-in-time
// view without holding a reference into live scheduler state).
func (t *Table) Snapshot() []ClientID {
	out := make([]ClientID, len(t.owners))
	copy(out, t.owners)
	return out
}
