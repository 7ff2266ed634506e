package models

import "time"

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectArchived  ProjectStatus = "archived"
	ProjectSuspended ProjectStatus = "suspended"
)

// Valid reports whether the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectArchived, ProjectSuspended:
		return true
	}
	return false
}

// Project is an analyzed codebase owned by exactly one actor. Projects are
// never implicitly deleted while analyses reference them; removal is an
// explicit cascade.
type Project struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Name       string          `json:"name"`
	Status     ProjectStatus   `json:"status"`
	TechStack  JSONStringArray `json:"tech_stack,omitempty"`
	TotalLines int64           `json:"total_lines"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
