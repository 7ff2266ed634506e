package worker

import (
	"net/http"
)

// handleMaintenanceRun triggers an immediate maintenance cycle. A cycle
// already in flight is rejected with 409, never queued.
func (s *Service) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.maintenance.RunNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(state)})
}

// handleMaintenanceStatus reports scheduler state and statistics.
func (s *Service) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.maintenance.Stats())
}
