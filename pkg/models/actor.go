// Package models contains domain models for codeaudit.
package models

import "time"

// Role represents the access level of an actor.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
	RoleViewer      Role = "viewer"
)

// AllRoles lists every valid role value.
var AllRoles = []Role{RoleAdmin, RoleContributor, RoleViewer}

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is a tenant-scoped identity. Every store operation takes the acting
// Actor as an explicit parameter; there is no ambient session state.
type Actor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the actor bypasses per-resource scoping.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ResourceType identifies the kind of resource an access grant covers.
type ResourceType string

const (
	ResourceProject ResourceType = "project"
)

// Grant is an explicit per-resource access grant. Grants do not cascade:
// child-resource visibility is always re-derived from the parent project.
type Grant struct {
	ID           int64        `json:"id"`
	ActorID      string       `json:"actor_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	CreatedAt    time.Time    `json:"created_at"`
}
