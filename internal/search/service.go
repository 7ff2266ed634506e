// Package search provides tenant-scoped similarity search over stored
// embeddings.
package search

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thebtf/codeaudit/internal/config"
	"github.com/thebtf/codeaudit/internal/db"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/internal/vector"
	"github.com/thebtf/codeaudit/pkg/models"
)

// DefaultThreshold is the cosine-distance cutoff applied when the caller
// passes zero.
const DefaultThreshold = 0.8

// Service runs similarity queries: access check first, then the ANN index,
// then hydration of the matched rows under the same actor scope.
type Service struct {
	projects   db.ProjectReader
	embeddings *gormdb.EmbeddingStore
	index      vector.Index
	cfg        *config.Config
	log        zerolog.Logger
}

// NewService creates a search service.
func NewService(projects db.ProjectReader, embeddings *gormdb.EmbeddingStore, index vector.Index, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		projects:   projects,
		embeddings: embeddings,
		index:      index,
		cfg:        cfg,
		log:        log.With().Str("component", "search").Logger(),
	}
}

// Result is one similarity match with its hydrated embedding.
type Result struct {
	Embedding  *models.Embedding `json:"embedding"`
	Distance   float64           `json:"distance"`
	Similarity float64           `json:"similarity"`
}

// FindSimilar returns the top-limit embeddings of a project ranked by
// ascending cosine distance to the query vector, excluding any beyond the
// threshold. The query vector must match the model's declared dimension. A
// project the actor cannot see reports ErrNotFound; an empty corpus reports
// an empty slice.
func (s *Service) FindSimilar(ctx context.Context, actor models.Actor, projectID, model string, query []float32, threshold float64, limit int) ([]Result, error) {
	dims, ok := s.cfg.ModelDimension(model)
	if !ok {
		return nil, &models.ConstraintError{Kind: models.ConstraintDomain, Table: "embeddings", Detail: "unknown embedding model: " + model}
	}
	if len(query) != dims {
		return nil, models.ErrDimensionMismatch
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = 10
	}

	// Access check inside the same call path as the search; a denied
	// project is indistinguishable from a missing one.
	if _, err := s.projects.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}

	matches, err := s.index.Search(ctx, projectID, model, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	embeddings, err := s.embeddings.GetEmbeddingsByIDs(ctx, actor, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Embedding, len(embeddings))
	for _, e := range embeddings {
		byID[e.ID] = e
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		e, ok := byID[m.ID]
		if !ok {
			// Index lag: the row was deleted after indexing. Skip.
			continue
		}
		results = append(results, Result{
			Embedding:  e,
			Distance:   m.Distance,
			Similarity: vector.DistanceToSimilarity(m.Distance),
		})
	}

	s.log.Debug().
		Str("project", projectID).
		Str("model", model).
		Int("results", len(results)).
		Msg("Similarity search complete")

	return results, nil
}
