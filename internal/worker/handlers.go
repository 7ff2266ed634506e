package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/codeaudit/pkg/models"
)

// DefaultListLimit is the default page size for list endpoints.
const DefaultListLimit = 100

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps the store's error taxonomy onto HTTP status codes.
// ErrNotFound covers access denial too, so a 404 never discloses whether the
// resource exists.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, models.ErrDimensionMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrMaintenanceInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrConstraintViolation):
		resp := errorResponse{Error: "constraint violation"}
		if ce, ok := models.AsConstraintError(err); ok {
			resp.Kind = string(ce.Kind)
			resp.Detail = ce.Detail
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeJSON decodes a request body, reporting malformed input as a 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// idParam parses a numeric {id} route parameter.
func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// handleHealth reports service and database health.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := s.store.HealthCheck(r.Context())
	built, failed := s.builder.Stats()

	status := http.StatusOK
	if db.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	auditEvents, err := s.audits.CountSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Warn().Err(err).Msg("Audit event count unavailable")
	}

	writeJSON(w, status, map[string]interface{}{
		"status":          db.Status,
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"database":        db,
		"audit_events_1d": auditEvents,
		"index": map[string]int64{
			"built":  built,
			"failed": failed,
		},
	})
}
