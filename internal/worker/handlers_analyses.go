package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/pkg/models"
)

// handleCreateAnalysis registers a pending analysis run.
func (s *Service) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.analyses.CreateAnalysis(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

// handleListAnalyses lists a project's analysis runs, newest first.
func (s *Service) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", DefaultListLimit)
	analyses, err := s.analyses.ListByProject(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

// handleGetAnalysis returns one analysis run.
func (s *Service) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	analysis, err := s.analyses.GetAnalysis(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleStartAnalysis transitions a pending run to in_progress.
func (s *Service) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.analyses.StartAnalysis(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.AnalysisInProgress)})
}

// handleCompleteAnalysis finishes a run with its scores.
func (s *Service) handleCompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req struct {
		ComplianceScore  int64 `json:"compliance_score"`
		QualityScore     int64 `json:"quality_score"`
		SecurityScore    int64 `json:"security_score"`
		PerformanceScore int64 `json:"performance_score"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.analyses.CompleteAnalysis(r.Context(), actorFrom(r.Context()), id, gormdb.AnalysisScores{
		Compliance:  req.ComplianceScore,
		Quality:     req.QualityScore,
		Security:    req.SecurityScore,
		Performance: req.PerformanceScore,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.AnalysisCompleted)})
}

// handleFailAnalysis marks a run failed.
func (s *Service) handleFailAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.analyses.FailAnalysis(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.AnalysisFailed)})
}

// handleCancelAnalysis cancels a pending run.
func (s *Service) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.analyses.CancelAnalysis(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.AnalysisCancelled)})
}

// handleListAnalysisViolations lists the violations one run produced.
func (s *Service) handleListAnalysisViolations(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", DefaultListLimit)

	violations, err := s.violations.ListByAnalysis(r.Context(), actorFrom(r.Context()), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

// handleCreateViolation records a violation against a project.
func (s *Service) handleCreateViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnalysisID *int64 `json:"analysis_id,omitempty"`
		Rule       string `json:"rule"`
		Severity   string `json:"severity"`
		FilePath   string `json:"file_path,omitempty"`
		LineNumber *int64 `json:"line_number,omitempty"`
		Message    string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rule == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "rule and message are required"})
		return
	}

	violation, err := s.violations.CreateViolation(r.Context(), actorFrom(r.Context()), gormdb.NewViolation{
		ProjectID:  chi.URLParam(r, "id"),
		AnalysisID: req.AnalysisID,
		Rule:       req.Rule,
		Severity:   models.Severity(req.Severity),
		FilePath:   req.FilePath,
		LineNumber: req.LineNumber,
		Message:    req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, violation)
}

// handleListViolations lists a project's violations, optionally filtered by
// status.
func (s *Service) handleListViolations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", DefaultListLimit)
	status := models.ViolationStatus(r.URL.Query().Get("status"))

	violations, err := s.violations.ListByProject(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

// handleUpdateViolationStatus moves a violation through its lifecycle.
func (s *Service) handleUpdateViolationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.violations.UpdateStatus(r.Context(), actorFrom(r.Context()), id, models.ViolationStatus(req.Status), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}
