package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/pkg/models"
)

// handleInsertEmbedding stores an embedding and queues its index build. A
// duplicate (model, content hash) returns the existing row with 200 instead
// of 201.
func (s *Service) handleInsertEmbedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceKind  string    `json:"source_kind"`
		SourcePath  string    `json:"source_path"`
		Model       string    `json:"model"`
		ContentHash string    `json:"content_hash"`
		Content     string    `json:"content,omitempty"`
		Vector      []float32 `json:"vector"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	contentHash := req.ContentHash
	if contentHash == "" && req.Content != "" {
		contentHash = models.HashContent(req.Content)
	}
	if contentHash == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "content_hash or content is required"})
		return
	}

	embedding, created, err := s.embeddings.InsertEmbedding(r.Context(), actorFrom(r.Context()), gormdb.NewEmbedding{
		ProjectID:   chi.URLParam(r, "id"),
		SourceKind:  models.SourceKind(req.SourceKind),
		SourcePath:  req.SourcePath,
		Model:       req.Model,
		ContentHash: contentHash,
		Vector:      req.Vector,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.builder.Notify()
	}
	writeJSON(w, status, embedding)
}

// handleGetEmbedding returns one embedding row, vector included.
func (s *Service) handleGetEmbedding(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	embedding, err := s.embeddings.GetEmbedding(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, embedding)
}

// handleSimilaritySearch runs a tenant-scoped ANN query.
func (s *Service) handleSimilaritySearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string    `json:"project_id"`
		Model     string    `json:"model"`
		Vector    []float32 `json:"vector"`
		Threshold float64   `json:"threshold,omitempty"`
		Limit     int       `json:"limit,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.Model == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "project_id and model are required"})
		return
	}

	results, err := s.searcher.FindSimilar(r.Context(), actorFrom(r.Context()), req.ProjectID, req.Model, req.Vector, req.Threshold, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}
