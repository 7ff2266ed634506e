package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// ProjectStore provides project operations. All reads and writes are tenant
// scoped; see scope.go.
type ProjectStore struct {
	db    *gorm.DB
	audit *AuditStore
}

// NewProjectStore creates a new project store.
func NewProjectStore(store *Store, audit *AuditStore) *ProjectStore {
	return &ProjectStore{db: store.DB, audit: audit}
}

// CreateProject creates a project owned by the acting actor. Viewers cannot
// create projects.
func (s *ProjectStore) CreateProject(ctx context.Context, actor models.Actor, name string, techStack []string, totalLines int64) (*models.Project, error) {
	if actor.Role == models.RoleViewer {
		return nil, models.ErrNotFound
	}

	row := &Project{
		OwnerID:    actor.ID,
		Name:       name,
		Status:     string(models.ProjectActive),
		TechStack:  models.JSONStringArray(techStack),
		TotalLines: totalLines,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, classifyError(err, "projects")
	}

	s.audit.Record(ctx, actor, "project.create", models.ResourceProject, row.ID)
	return toModelProject(row), nil
}

// GetProject fetches a project the actor may see.
func (s *ProjectStore) GetProject(ctx context.Context, actor models.Actor, id string) (*models.Project, error) {
	var row Project
	err := visibleProjects(s.db.WithContext(ctx), actor).
		First(&row, "projects.id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "projects")
	}
	return toModelProject(&row), nil
}

// ListProjects returns the projects visible to the actor, newest first.
func (s *ProjectStore) ListProjects(ctx context.Context, actor models.Actor, limit int) ([]*models.Project, error) {
	var rows []Project
	err := visibleProjects(s.db.WithContext(ctx), actor).
		Order("created_at DESC").
		Limit(clampLimit(limit, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "projects")
	}

	out := make([]*models.Project, len(rows))
	for i := range rows {
		out[i] = toModelProject(&rows[i])
	}
	return out, nil
}

// UpdateStatus moves a project to a new lifecycle status. Owner or admin
// only.
func (s *ProjectStore) UpdateStatus(ctx context.Context, actor models.Actor, id string, status models.ProjectStatus) error {
	if !status.Valid() {
		return &models.ConstraintError{Kind: models.ConstraintDomain, Table: "projects", Detail: "invalid status: " + string(status)}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Project
		if err := visibleProjects(tx, actor).First(&row, "projects.id = ?", id).Error; err != nil {
			return classifyError(err, "projects")
		}
		if !canMutateProject(actor, &row) {
			return models.ErrNotFound
		}

		return classifyError(
			tx.Model(&Project{}).Where("id = ?", id).Update("status", string(status)).Error,
			"projects")
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, actor, "project.update_status", models.ResourceProject, id)
	return nil
}

// UpdateLineCount refreshes the aggregate line count for a project.
func (s *ProjectStore) UpdateLineCount(ctx context.Context, actor models.Actor, id string, totalLines int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Project
		if err := visibleProjects(tx, actor).First(&row, "projects.id = ?", id).Error; err != nil {
			return classifyError(err, "projects")
		}
		if !canMutateProject(actor, &row) {
			return models.ErrNotFound
		}

		return classifyError(
			tx.Model(&Project{}).Where("id = ?", id).Update("total_lines", totalLines).Error,
			"projects")
	})
}

// DeleteProject removes a project and, explicitly, everything that
// references it: analyses, violations, embeddings and grants. Owner or admin
// only. Returns the ids of deleted embeddings so the caller can evict them
// from the ANN index.
func (s *ProjectStore) DeleteProject(ctx context.Context, actor models.Actor, id string) ([]int64, error) {
	var embeddingIDs []int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Project
		if err := visibleProjects(tx, actor).First(&row, "projects.id = ?", id).Error; err != nil {
			return classifyError(err, "projects")
		}
		if !canMutateProject(actor, &row) {
			return models.ErrNotFound
		}

		if err := tx.Model(&Embedding{}).Where("project_id = ?", id).
			Pluck("id", &embeddingIDs).Error; err != nil {
			return classifyError(err, "embeddings")
		}

		// Cascade is explicit, not implicit: each dependent table is
		// cleared inside the same transaction.
		for _, del := range []interface{}{&Violation{}, &Analysis{}, &Embedding{}} {
			if err := tx.Where("project_id = ?", id).Delete(del).Error; err != nil {
				return classifyError(err, "projects")
			}
		}
		if err := tx.Where("resource_type = ? AND resource_id = ?",
			string(models.ResourceProject), id).Delete(&AccessGrant{}).Error; err != nil {
			return classifyError(err, "access_grants")
		}

		return classifyError(tx.Delete(&Project{}, "id = ?", id).Error, "projects")
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor, "project.delete", models.ResourceProject, id)
	return embeddingIDs, nil
}

// toModelProject converts a database row to the domain model.
func toModelProject(row *Project) *models.Project {
	return &models.Project{
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		Name:       row.Name,
		Status:     models.ProjectStatus(row.Status),
		TechStack:  row.TechStack,
		TotalLines: row.TotalLines,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}
