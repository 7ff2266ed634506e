// Package db defines database interfaces for the codeaudit stores.
package db

import (
	"context"
	"time"

	"github.com/thebtf/codeaudit/pkg/models"
)

// ProjectReader defines tenant-scoped read operations for projects.
type ProjectReader interface {
	GetProject(ctx context.Context, actor models.Actor, id string) (*models.Project, error)
	ListProjects(ctx context.Context, actor models.Actor, limit int) ([]*models.Project, error)
}

// ProjectWriter defines tenant-scoped write operations for projects.
// DeleteProject returns the ids of the deleted project's embeddings so the
// caller can evict them from the vector index.
type ProjectWriter interface {
	CreateProject(ctx context.Context, actor models.Actor, name string, techStack []string, totalLines int64) (*models.Project, error)
	UpdateStatus(ctx context.Context, actor models.Actor, id string, status models.ProjectStatus) error
	UpdateLineCount(ctx context.Context, actor models.Actor, id string, totalLines int64) error
	DeleteProject(ctx context.Context, actor models.Actor, id string) ([]int64, error)
}

// ProjectStore combines read and write operations for projects.
type ProjectStore interface {
	ProjectReader
	ProjectWriter
}

// EmbeddingSource is the view of embedding persistence the asynchronous
// index builder needs.
type EmbeddingSource interface {
	ClaimPending(ctx context.Context, includeFailed bool, limit int) ([]*models.Embedding, error)
	MarkIndexed(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, buildErr error) error
}

// RetentionSweeper is implemented by stores that prune aged rows.
type RetentionSweeper interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
