package gorm

import (
	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// Tenant scoping. Every query against a tenant-owned table is built through
// these helpers, which require the acting Actor; entity stores have no other
// way to reach those tables, so an unscoped request path cannot be
// constructed. The predicate is part of the statement itself and therefore
// evaluated in the same transaction as the read or write it guards.
//
// Denial is silent: scoped point reads report ErrNotFound and scoped lists
// come back empty, so a forbidden resource is indistinguishable from a
// missing one.

// grantedProjectIDs is the subquery of project ids explicitly granted to the
// actor.
func grantedProjectIDs(tx *gorm.DB, actor models.Actor) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true}).
		Model(&AccessGrant{}).
		Select("resource_id").
		Where("actor_id = ? AND resource_type = ?", actor.ID, string(models.ResourceProject))
}

// visibleProjects restricts a projects query to what the actor may see:
// owned, explicitly granted, or everything for admins.
func visibleProjects(tx *gorm.DB, actor models.Actor) *gorm.DB {
	q := tx.Model(&Project{})
	if actor.IsAdmin() {
		return q
	}
	return q.Where("projects.owner_id = ? OR projects.id IN (?)", actor.ID, grantedProjectIDs(tx, actor))
}

// visibleProjectIDs is the id-only form of visibleProjects, for use as a
// subquery.
func visibleProjectIDs(tx *gorm.DB, actor models.Actor) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true}).
		Model(&Project{}).
		Select("id").
		Where("owner_id = ? OR id IN (?)", actor.ID, grantedProjectIDs(tx, actor))
}

// scopeByProject restricts a child-table query through the parent project's
// visibility. Child visibility is always re-derived from the project; it is
// never stored redundantly on the child row. column names the child's
// project reference.
func scopeByProject(tx *gorm.DB, actor models.Actor, column string) *gorm.DB {
	if actor.IsAdmin() {
		return tx
	}
	return tx.Where(column+" IN (?)", visibleProjectIDs(tx, actor))
}

// canMutateProject reports whether the actor may mutate the given project
// row: owner or admin. Grantees read but do not write.
func canMutateProject(actor models.Actor, p *Project) bool {
	return actor.IsAdmin() || p.OwnerID == actor.ID
}

// mutableProject loads a project the actor may mutate, for writes to the
// project's child rows. The same rule as canMutateProject applies: a grantee
// or viewer writing here gets ErrNotFound, indistinguishable from a
// non-member.
func mutableProject(tx *gorm.DB, actor models.Actor, projectID string) (*Project, error) {
	if actor.Role == models.RoleViewer {
		return nil, models.ErrNotFound
	}
	var row Project
	if err := visibleProjects(tx, actor).First(&row, "projects.id = ?", projectID).Error; err != nil {
		return nil, classifyError(err, "projects")
	}
	if !canMutateProject(actor, &row) {
		return nil, models.ErrNotFound
	}
	return &row, nil
}
