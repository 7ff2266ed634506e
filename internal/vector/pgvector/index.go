// Package pgvector provides the PostgreSQL-backed ANN index. Vectors live in
// the embeddings table; search runs the pgvector cosine-distance operator
// against rows whose index build has completed.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/internal/vector"
)

// Index implements vector.Index on top of the embeddings table.
type Index struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewIndex creates a pgvector-backed index.
func NewIndex(db *gorm.DB) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	return &Index{db: db, sqlDB: sqlDB}, nil
}

// Insert is a no-op: the vector is already persisted in the embeddings row,
// and searchability is gated on index_state, which the builder flips after
// calling Insert. Publication order is therefore the same as for other
// implementations.
func (idx *Index) Insert(ctx context.Context, e vector.Entry) error {
	return nil
}

// Remove is a no-op for the same reason: deleting the embedding row removes
// it from the searchable set.
func (idx *Index) Remove(ctx context.Context, ids []int64) error {
	return nil
}

// Search ranks indexed embeddings of one (project, model) pair by cosine
// distance. Ordering by (distance, id) keeps results deterministic for a
// fixed index state.
func (idx *Index) Search(ctx context.Context, projectID, model string, query []float32, k int, threshold float64) ([]vector.Match, error) {
	if k <= 0 {
		k = 10
	}

	rows, err := idx.sqlDB.QueryContext(ctx, `
		SELECT id, vector <=> $1 AS distance
		FROM embeddings
		WHERE project_id = $2 AND model = $3 AND index_state = 'indexed'
		  AND vector <=> $1 <= $4
		ORDER BY distance, id
		LIMIT $5`,
		pgvec.NewVector(query), projectID, model, threshold, k,
	)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var m vector.Match
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of searchable vectors.
func (idx *Index) Count(ctx context.Context) (int64, error) {
	var count int64
	err := idx.db.WithContext(ctx).
		Table("embeddings").
		Where("index_state = ?", "indexed").
		Count(&count).Error
	return count, err
}

// Compile-time check: Index must satisfy vector.Index.
var _ vector.Index = (*Index)(nil)
