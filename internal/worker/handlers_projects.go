package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/codeaudit/pkg/models"
)

// handleCreateActor registers an actor.
func (s *Service) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	actor, err := s.actors.CreateActor(r.Context(), req.Name, models.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

// handleCreateProject creates a project owned by the calling actor.
func (s *Service) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		TechStack  []string `json:"tech_stack"`
		TotalLines int64    `json:"total_lines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	project, err := s.projects.CreateProject(r.Context(), actorFrom(r.Context()), req.Name, req.TechStack, req.TotalLines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleListProjects lists the projects visible to the calling actor.
func (s *Service) handleListProjects(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", DefaultListLimit)
	projects, err := s.projects.ListProjects(r.Context(), actorFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleGetProject returns one project.
func (s *Service) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.projects.GetProject(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleUpdateProjectStatus transitions a project's lifecycle status.
func (s *Service) handleUpdateProjectStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.projects.UpdateStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), models.ProjectStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// handleUpdateLineCount refreshes a project's aggregate line count.
func (s *Service) handleUpdateLineCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TotalLines int64 `json:"total_lines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TotalLines < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "total_lines must be non-negative"})
		return
	}

	err := s.projects.UpdateLineCount(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.TotalLines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total_lines": req.TotalLines})
}

// handleDeleteProject deletes a project and its dependents, evicting the
// project's embeddings from the ANN index.
func (s *Service) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	embeddingIDs, err := s.projects.DeleteProject(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(embeddingIDs) > 0 {
		s.builder.Evict(r.Context(), embeddingIDs)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGrantAccess grants another actor access to a project.
func (s *Service) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "actor_id is required"})
		return
	}

	err := s.actors.GrantAccess(r.Context(), actorFrom(r.Context()), req.ActorID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListGrants lists the explicit grants on a project.
func (s *Service) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.actors.ListGrants(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

// handleRevokeAccess revokes a previously granted access.
func (s *Service) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	err := s.actors.RevokeAccess(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "actorId"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProjectStatistics returns live aggregate statistics for a project.
func (s *Service) handleProjectStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.GetProjectStatistics(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleComplianceTrend returns daily compliance buckets from the rollup
// layer.
func (s *Service) handleComplianceTrend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	points, err := s.stats.GetComplianceTrend(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handlePerformanceTrend returns weekly performance buckets from the rollup
// layer.
func (s *Service) handlePerformanceTrend(w http.ResponseWriter, r *http.Request) {
	weeks := queryInt(r, "weeks", 12)
	points, err := s.stats.GetPerformanceTrend(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), weeks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleQualityOverview returns the published quality rollup row.
func (s *Service) handleQualityOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.stats.GetQualityOverview(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
