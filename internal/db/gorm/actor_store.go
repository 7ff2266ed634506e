package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// ActorStore provides actor and access-grant operations.
type ActorStore struct {
	db *gorm.DB
}

// NewActorStore creates a new actor store.
func NewActorStore(store *Store) *ActorStore {
	return &ActorStore{db: store.DB}
}

// CreateActor registers a new actor.
func (s *ActorStore) CreateActor(ctx context.Context, name string, role models.Role) (*models.Actor, error) {
	if !role.Valid() {
		return nil, &models.ConstraintError{Kind: models.ConstraintDomain, Table: "actors", Detail: "invalid role: " + string(role)}
	}

	row := &Actor{Name: name, Role: string(role)}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, classifyError(err, "actors")
	}
	return toModelActor(row), nil
}

// GetActor fetches an actor by id.
func (s *ActorStore) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	var row Actor
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "actors")
	}
	return toModelActor(&row), nil
}

// GrantAccess records an explicit grant of a project to an actor. Only the
// project's owner or an admin may grant; for anyone else the project does
// not exist.
func (s *ActorStore) GrantAccess(ctx context.Context, actor models.Actor, granteeID, projectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}
		if !canMutateProject(actor, &project) {
			return models.ErrNotFound
		}

		grant := &AccessGrant{
			ActorID:      granteeID,
			ResourceType: string(models.ResourceProject),
			ResourceID:   projectID,
		}
		if err := tx.Create(grant).Error; err != nil {
			return classifyError(err, "access_grants")
		}
		return nil
	})
}

// RevokeAccess removes an explicit grant. Same mutation rules as GrantAccess.
func (s *ActorStore) RevokeAccess(ctx context.Context, actor models.Actor, granteeID, projectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}
		if !canMutateProject(actor, &project) {
			return models.ErrNotFound
		}

		return tx.
			Where("actor_id = ? AND resource_type = ? AND resource_id = ?",
				granteeID, string(models.ResourceProject), projectID).
			Delete(&AccessGrant{}).Error
	})
}

// ListGrants returns the explicit grants on a project, oldest first. Only
// the project's owner or an admin may list them; for anyone else the project
// does not exist.
func (s *ActorStore) ListGrants(ctx context.Context, actor models.Actor, projectID string) ([]models.Grant, error) {
	db := s.db.WithContext(ctx)

	var project Project
	if err := visibleProjects(db, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
		return nil, classifyError(err, "projects")
	}
	if !canMutateProject(actor, &project) {
		return nil, models.ErrNotFound
	}

	var rows []AccessGrant
	err := db.
		Where("resource_type = ? AND resource_id = ?", string(models.ResourceProject), projectID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "access_grants")
	}

	grants := make([]models.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, models.Grant{
			ID:           row.ID,
			ActorID:      row.ActorID,
			ResourceType: models.ResourceType(row.ResourceType),
			ResourceID:   row.ResourceID,
			CreatedAt:    row.CreatedAt,
		})
	}
	return grants, nil
}

// toModelActor converts a database row to the domain model.
func toModelActor(row *Actor) *models.Actor {
	return &models.Actor{
		ID:        row.ID,
		Name:      row.Name,
		Role:      models.Role(row.Role),
		CreatedAt: row.CreatedAt,
	}
}
