// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package inspector

import "net/http"

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metrics.GetStats())
}
