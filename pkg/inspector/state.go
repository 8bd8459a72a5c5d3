// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"encoding/json"
	"net/http"
)

// StateSnapshot is the JSON body of GET /v1/state.
type StateSnapshot struct {
	TotalCores int              `json:"total_cores"`
	FreeCores  int              `json:"free_cores"`
	CoreOwners []int64          `json:"core_owners"` // index is core id; 0 means free
	Clients    []ClientSnapshot `json:"clients"`
}

// ClientSnapshot mirrors registry.Client, minus nothing sensitive — the
// arbiter protocol carries no credentials to redact.
type ClientSnapshot struct {
	PID                       int32   `json:"pid"`
	ClientID                  int64   `json:"client_id"`
	MinCores                  int     `json:"min_cores"`
	MaxCores                  int     `json:"max_cores"`
	DistributionHint          float64 `json:"distribution_hint"`
	OptimalCores              int     `json:"optimal_cores"`
	AssignedCores             []int   `json:"assigned_cores"`
	RetreatActive             bool    `json:"retreat_active"`
	ReinvadeNonblockingActive bool    `json:"reinvade_nonblocking_active"`
}

func (s *Server) snapshotState() StateSnapshot {
	tbl := s.state.Table()
	owners := make([]int64, tbl.Len())
	for core := 0; core < tbl.Len(); core++ {
		owners[core] = int64(tbl.OwnerOf(core))
	}

	clients := s.state.Registry().All()
	out := make([]ClientSnapshot, len(clients))
	for i, c := range clients {
		assigned := make([]int, len(c.AssignedCores))
		copy(assigned, c.AssignedCores)
		out[i] = ClientSnapshot{
			PID:                       c.PID,
			ClientID:                  int64(c.ID),
			MinCores:                  c.MinCores,
			MaxCores:                  c.MaxCores,
			DistributionHint:          c.DistributionHint,
			OptimalCores:              c.OptimalCores,
			AssignedCores:             assigned,
			RetreatActive:             c.RetreatActive,
			ReinvadeNonblockingActive: c.ReinvadeNonblockingActive,
		}
	}

	return StateSnapshot{
		TotalCores: tbl.Len(),
		FreeCores:  tbl.FreeCores(),
		CoreOwners: owners,
		Clients:    out,
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshotState())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
