// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package reconcile moves a client's current core assignment toward the
// optimizer's target, via the two procedures spec.md §4.3/§4.4 describe:
// a synchronous path that may evict unilaterally, and an asynchronous
// path that must propose and await acknowledgement.
package reconcile

import (
	"sort"

	"github.com/jontk/core-arbiter/internal/registry"
	"github.com/jontk/core-arbiter/internal/resources"
	"github.com/jontk/core-arbiter/pkg/logging"
)

// Changed reports whether Sync or Async actually altered (or proposed
// altering) a client's assignment.
type Changed bool

const (
	Unchanged Changed = false
	Did       Changed = true
)

// Sync implements apply_new_optimum_sync (spec.md §4.3). It is called
// while answering a blocking INVADE/REINVADE, so it may release cores
// from the table immediately: the client is suspended awaiting the
// answer and will adopt the new set atomically.
func Sync(tbl *resources.Table, c *registry.Client, optimal int) Changed {
	delta := optimal - c.NumAssignedCores()
	switch {
	case delta == 0:
		return Unchanged
	case delta > 0:
		free := tbl.FreeCoresHighToLow()
		took := 0
		for _, core := range free {
			if took == delta {
				break
			}
			if err := tbl.Claim(core, c.ID); err != nil {
				continue
			}
			c.AddCore(core)
			took++
		}
		return Changed(took > 0)
	default:
		dropped := c.DropHighestCores(-delta)
		for _, core := range dropped {
			_ = tbl.Release(core, c.ID)
		}
		return Did
	}
}

// Async implements apply_new_optimum_async (spec.md §4.4). It is a
// no-op whenever the client already has a proposal outstanding. A
// shrink does not free table slots yet — those stay owned by the
// client until its CLIENT_REINVADE_ACK_NONBLOCKING lands (see Ack
// below) — only the client's local view of its affinity set shrinks in
// the outbound proposal.
//
// proposed is the affinity array to place in the SERVER_REINVADE_NONBLOCKING
// this call should emit; ok is false when there is nothing to propose.
func Async(tbl *resources.Table, c *registry.Client, optimal int, force bool) (proposed []int, ok bool) {
	if c.ReinvadeNonblockingActive {
		return nil, false
	}

	delta := optimal - c.NumAssignedCores()
	switch {
	case delta == 0 && !force:
		return nil, false

	case delta > 0 || (delta == 0 && force):
		free := tbl.FreeCoresLowToHigh()
		took := 0
		for _, core := range free {
			if delta <= 0 || took == delta {
				break
			}
			if err := tbl.Claim(core, c.ID); err != nil {
				continue
			}
			c.AddCore(core)
			took++
		}
		if took == 0 && !force {
			return nil, false
		}
		c.ReinvadeNonblockingActive = true
		return append([]int(nil), c.AssignedCores...), true

	default: // delta < 0
		reduced := append([]int(nil), c.AssignedCores[-delta:]...)
		sort.Ints(reduced)
		c.ReinvadeNonblockingActive = true
		return reduced, true
	}
}

// Ack applies a CLIENT_REINVADE_ACK_NONBLOCKING, replacing the
// client's table ownership and assigned set wholesale with the
// affinity array the client reports owning (spec.md §4.4 steps 1-5).
// A core the client claims but that the table won't grant it — stale
// or out-of-range, e.g. because it is still owned by another client —
// is dropped from the adopted set rather than recorded on the client
// anyway, so the table and the registry's per-client view never
// disagree about who holds a core.
func Ack(logger logging.Logger, tbl *resources.Table, c *registry.Client, affinity []int) {
	tbl.ReleaseAll(c.ID)
	c.ClearAssignedCores()
	adopted := make([]int, 0, len(affinity))
	for _, core := range affinity {
		if err := tbl.Claim(core, c.ID); err != nil {
			logging.LogError(logger, err, "reinvade ack rejected core", "pid", c.PID, "core", core)
			continue
		}
		adopted = append(adopted, core)
	}
	c.SetAssignedCores(adopted)
	c.ReinvadeNonblockingActive = false
}
