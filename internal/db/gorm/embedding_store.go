package gorm

import (
	"context"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/codeaudit/internal/config"
	"github.com/thebtf/codeaudit/pkg/models"
)

// EmbeddingStore provides embedding persistence. Rows are the system of
// record; the ANN index is built from them asynchronously, so a just-written
// vector is not immediately searchable.
type EmbeddingStore struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewEmbeddingStore creates a new embedding store.
func NewEmbeddingStore(store *Store, cfg *config.Config) *EmbeddingStore {
	return &EmbeddingStore{db: store.DB, cfg: cfg}
}

// NewEmbedding describes an embedding to persist.
type NewEmbedding struct {
	ProjectID   string
	SourceKind  models.SourceKind
	SourcePath  string
	Model       string
	ContentHash string
	Vector      []float32
}

// InsertEmbedding persists an embedding. The vector length must match the
// dimension declared for the model. Re-inserting the same (project, model,
// content_hash) is a no-op that returns the existing row. The returned bool
// reports whether a new row was created and therefore needs an index build.
func (s *EmbeddingStore) InsertEmbedding(ctx context.Context, actor models.Actor, e NewEmbedding) (*models.Embedding, bool, error) {
	if !e.SourceKind.Valid() {
		return nil, false, &models.ConstraintError{Kind: models.ConstraintDomain, Table: "embeddings", Detail: "invalid source kind: " + string(e.SourceKind)}
	}
	dims, ok := s.cfg.ModelDimension(e.Model)
	if !ok {
		return nil, false, &models.ConstraintError{Kind: models.ConstraintDomain, Table: "embeddings", Detail: "unknown embedding model: " + e.Model}
	}
	if len(e.Vector) != dims {
		return nil, false, models.ErrDimensionMismatch
	}

	var row Embedding
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := mutableProject(tx, actor, e.ProjectID); err != nil {
			return err
		}

		row = Embedding{
			ProjectID:   e.ProjectID,
			SourceKind:  string(e.SourceKind),
			SourcePath:  e.SourcePath,
			Model:       e.Model,
			ContentHash: e.ContentHash,
			Vector:      pgvec.NewVector(e.Vector),
			IndexState:  string(models.IndexPending),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"}, {Name: "model"}, {Name: "content_hash"},
			},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return classifyError(res.Error, "embeddings")
		}
		created = res.RowsAffected > 0

		if !created {
			// Conflict: load the row the earlier insert left behind.
			return classifyError(tx.
				Where("project_id = ? AND model = ? AND content_hash = ?",
					e.ProjectID, e.Model, e.ContentHash).
				First(&row).Error, "embeddings")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return toModelEmbedding(&row), created, nil
}

// GetEmbedding fetches an embedding whose project the actor may see.
func (s *EmbeddingStore) GetEmbedding(ctx context.Context, actor models.Actor, id int64) (*models.Embedding, error) {
	var row Embedding
	err := scopeByProject(s.db.WithContext(ctx).Model(&Embedding{}), actor, "embeddings.project_id").
		First(&row, "embeddings.id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "embeddings")
	}
	return toModelEmbedding(&row), nil
}

// GetEmbeddingsByIDs fetches several embeddings under the actor's scope,
// keeping input order where possible.
func (s *EmbeddingStore) GetEmbeddingsByIDs(ctx context.Context, actor models.Actor, ids []int64) ([]*models.Embedding, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []Embedding
	err := scopeByProject(s.db.WithContext(ctx).Model(&Embedding{}), actor, "embeddings.project_id").
		Where("embeddings.id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "embeddings")
	}

	byID := make(map[int64]*models.Embedding, len(rows))
	for i := range rows {
		byID[rows[i].ID] = toModelEmbedding(&rows[i])
	}
	out := make([]*models.Embedding, 0, len(rows))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// ClaimPending returns embeddings awaiting an index build, oldest first.
// Used by the asynchronous builder and by the maintenance requeue pass
// (which also retries rows that previously failed).
func (s *EmbeddingStore) ClaimPending(ctx context.Context, includeFailed bool, limit int) ([]*models.Embedding, error) {
	states := []string{string(models.IndexPending)}
	if includeFailed {
		states = append(states, string(models.IndexFailed))
	}

	var rows []Embedding
	err := s.db.WithContext(ctx).
		Where("index_state IN ?", states).
		Order("id ASC").
		Limit(clampLimit(limit, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "embeddings")
	}

	out := make([]*models.Embedding, len(rows))
	for i := range rows {
		out[i] = toModelEmbedding(&rows[i])
	}
	return out, nil
}

// MarkIndexed records a successful index build.
func (s *EmbeddingStore) MarkIndexed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return classifyError(s.db.WithContext(ctx).
		Model(&Embedding{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"index_state": string(models.IndexIndexed),
			"index_error": nil,
		}).Error, "embeddings")
}

// MarkFailed records a failed index build; the maintenance cycle retries it.
func (s *EmbeddingStore) MarkFailed(ctx context.Context, id int64, buildErr error) error {
	detail := ""
	if buildErr != nil {
		detail = buildErr.Error()
	}
	return classifyError(s.db.WithContext(ctx).
		Model(&Embedding{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"index_state": string(models.IndexFailed),
			"index_error": nullString(detail),
		}).Error, "embeddings")
}

// ListByProjectModel returns all indexed vectors for one project and model.
// Used for index rebuilds and the similarity rollup.
func (s *EmbeddingStore) ListByProjectModel(ctx context.Context, projectID, model string) ([]*models.Embedding, error) {
	var rows []Embedding
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND model = ?", projectID, model).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "embeddings")
	}

	out := make([]*models.Embedding, len(rows))
	for i := range rows {
		out[i] = toModelEmbedding(&rows[i])
	}
	return out, nil
}

// Corpus identifies one searchable (project, model) vector set.
type Corpus struct {
	ProjectID string
	Model     string
}

// IndexedCorpora lists every (project, model) pair with at least one indexed
// embedding. Used to warm an in-memory index after restart.
func (s *EmbeddingStore) IndexedCorpora(ctx context.Context) ([]Corpus, error) {
	var corpora []Corpus
	err := s.db.WithContext(ctx).Model(&Embedding{}).
		Select("project_id, model").
		Where("index_state = ?", string(models.IndexIndexed)).
		Group("project_id, model").
		Order("project_id ASC, model ASC").
		Scan(&corpora).Error
	if err != nil {
		return nil, classifyError(err, "embeddings")
	}
	return corpora, nil
}

// toModelEmbedding converts a database row to the domain model.
func toModelEmbedding(row *Embedding) *models.Embedding {
	return &models.Embedding{
		ID:          row.ID,
		ProjectID:   row.ProjectID,
		SourceKind:  models.SourceKind(row.SourceKind),
		SourcePath:  row.SourcePath,
		Model:       row.Model,
		ContentHash: row.ContentHash,
		Vector:      row.Vector.Slice(),
		IndexState:  models.IndexState(row.IndexState),
		CreatedAt:   row.CreatedAt,
	}
}
