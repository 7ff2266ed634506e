// Package gorm provides GORM-based database operations for codeaudit.
package gorm

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// GORM Models
//
// Enum domains are enforced twice: model validation at the store boundary and
// check constraints in the table DDL. The constraints are the backstop; the
// validation produces classified errors without a round trip.

// Actor is a tenant-scoped identity.
type Actor struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Name      string    `gorm:"type:text;not null"`
	Role      string    `gorm:"type:text;not null;check:role IN ('admin', 'contributor', 'viewer')"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Actor) TableName() string { return "actors" }

// BeforeCreate assigns an ID when the caller did not provide one.
func (a *Actor) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AccessGrant is an explicit per-resource grant. Grants never cascade to
// child resources; child visibility is derived from the parent project.
type AccessGrant struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ActorID      string    `gorm:"type:text;not null;index:idx_grants_actor;uniqueIndex:idx_grants_unique,priority:1"`
	ResourceType string    `gorm:"type:text;not null;check:resource_type IN ('project');uniqueIndex:idx_grants_unique,priority:2"`
	ResourceID   string    `gorm:"type:text;not null;uniqueIndex:idx_grants_unique,priority:3"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`

	Grantee *Actor `gorm:"foreignKey:ActorID;constraint:OnDelete:CASCADE" json:"-"`
}

func (AccessGrant) TableName() string { return "access_grants" }

// Project is an analyzed codebase owned by one actor.
type Project struct {
	ID         string                 `gorm:"primaryKey;type:text"`
	OwnerID    string                 `gorm:"type:text;not null;index:idx_projects_owner"`
	Name       string                 `gorm:"type:text;not null"`
	Status     string                 `gorm:"type:text;default:'active';check:status IN ('active', 'archived', 'suspended');index"`
	TechStack  models.JSONStringArray `gorm:"type:text"`
	TotalLines int64                  `gorm:"default:0"`
	CreatedAt  time.Time              `gorm:"autoCreateTime"`
	UpdatedAt  time.Time              `gorm:"autoUpdateTime"`

	Owner *Actor `gorm:"foreignKey:OwnerID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (Project) TableName() string { return "projects" }

// BeforeCreate assigns an ID and default status.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = string(models.ProjectActive)
	}
	return nil
}

// Analysis is a single analysis run against a project.
type Analysis struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement"`
	ProjectID          string         `gorm:"type:text;not null;index:idx_analyses_project;index:idx_analyses_project_created,priority:1"`
	Status             string         `gorm:"type:text;default:'pending';check:status IN ('pending', 'in_progress', 'completed', 'failed', 'cancelled');index"`
	ComplianceScore    sql.NullInt64  `gorm:"check:compliance_score IS NULL OR (compliance_score >= 0 AND compliance_score <= 100)"`
	QualityScore       sql.NullInt64  `gorm:"check:quality_score IS NULL OR (quality_score >= 0 AND quality_score <= 100)"`
	SecurityScore      sql.NullInt64  `gorm:"check:security_score IS NULL OR (security_score >= 0 AND security_score <= 100)"`
	PerformanceScore   sql.NullInt64  `gorm:"check:performance_score IS NULL OR (performance_score >= 0 AND performance_score <= 100)"`
	TotalViolations    int            `gorm:"default:0"`
	CriticalViolations int            `gorm:"default:0"`
	StartedAt          sql.NullTime
	CompletedAt        sql.NullTime
	DurationMillis     sql.NullInt64  `gorm:"column:duration_ms"`
	CreatedAt          time.Time      `gorm:"autoCreateTime;index:idx_analyses_project_created,priority:2,sort:desc"`

	Project *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Analysis) TableName() string { return "analyses" }

// Violation is a rule breach found in a project.
type Violation struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ProjectID      string         `gorm:"type:text;not null;index:idx_violations_project"`
	AnalysisID     sql.NullInt64  `gorm:"index:idx_violations_analysis"`
	Rule           string         `gorm:"type:text;not null"`
	Severity       string         `gorm:"type:text;not null;check:severity IN ('critical', 'high', 'medium', 'low', 'info');index"`
	Status         string         `gorm:"type:text;default:'open';check:status IN ('open', 'in_progress', 'resolved', 'false_positive', 'suppressed', 'wont_fix');index"`
	FilePath       sql.NullString `gorm:"type:text"`
	LineNumber     sql.NullInt64
	Message        string         `gorm:"type:text;not null"`
	ResolvedBy     sql.NullString `gorm:"type:text"`
	ResolvedAt     sql.NullTime   `gorm:"check:chk_violations_resolution,resolved_at IS NULL OR status NOT IN ('open', 'in_progress')"`
	ResolutionNote sql.NullString `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index:idx_violations_created"`

	Project  *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	Analysis *Analysis `gorm:"foreignKey:AnalysisID;constraint:OnDelete:SET NULL" json:"-"`
}

func (Violation) TableName() string { return "violations" }

// Embedding is a stored vector for a unit of analyzed code. The unique index
// on (project_id, model, content_hash) makes re-insertion idempotent.
type Embedding struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	ProjectID   string         `gorm:"type:text;not null;index:idx_embeddings_project;uniqueIndex:idx_embeddings_dedup,priority:1"`
	SourceKind  string         `gorm:"type:text;not null;check:source_kind IN ('file', 'function', 'pattern')"`
	SourcePath  string         `gorm:"type:text;not null"`
	Model       string         `gorm:"type:text;not null;uniqueIndex:idx_embeddings_dedup,priority:2"`
	ContentHash string         `gorm:"type:text;not null;uniqueIndex:idx_embeddings_dedup,priority:3"`
	Vector      pgvec.Vector   `gorm:"type:vector"`
	IndexState  string         `gorm:"type:text;default:'pending';check:index_state IN ('pending', 'indexed', 'failed');index:idx_embeddings_state"`
	IndexError  sql.NullString `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`

	Project *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Embedding) TableName() string { return "embeddings" }

// AuditEvent records a mutating operation. Pruned aggressively by the
// retention sweep.
type AuditEvent struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ActorID      string    `gorm:"type:text;not null;index:idx_audit_actor"`
	Action       string    `gorm:"type:text;not null"`
	ResourceType string    `gorm:"type:text;not null"`
	ResourceID   string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_audit_created"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// Rollup tables. Rows carry a generation; readers resolve the current
// generation through rollup_generations so a refresh in flight is invisible
// until its pointer swap commits.

// RollupGeneration is the published-generation pointer for one rollup.
type RollupGeneration struct {
	Name        string    `gorm:"primaryKey;type:text"`
	Generation  int64     `gorm:"not null;default:0"`
	RefreshedAt time.Time
}

func (RollupGeneration) TableName() string { return "rollup_generations" }

// DailyComplianceRollup aggregates compliance scores per project per day.
type DailyComplianceRollup struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	Generation      int64   `gorm:"not null;index:idx_daily_compliance_gen,priority:1"`
	ProjectID       string  `gorm:"type:text;not null;index:idx_daily_compliance_gen,priority:2"`
	Day             string  `gorm:"type:text;not null"` // YYYY-MM-DD
	AvgCompliance   float64 `gorm:"not null"`
	MinCompliance   int64   `gorm:"not null"`
	MaxCompliance   int64   `gorm:"not null"`
	AnalysesCount   int64   `gorm:"not null"`
	ViolationsFound int64   `gorm:"not null"`
}

func (DailyComplianceRollup) TableName() string { return "daily_compliance_rollups" }

// WeeklyPerformanceRollup aggregates performance scores per project per ISO week.
type WeeklyPerformanceRollup struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	Generation     int64   `gorm:"not null;index:idx_weekly_perf_gen,priority:1"`
	ProjectID      string  `gorm:"type:text;not null;index:idx_weekly_perf_gen,priority:2"`
	WeekStart      string  `gorm:"type:text;not null"` // Monday, YYYY-MM-DD
	AvgPerformance float64 `gorm:"not null"`
	AvgDurationMS  float64 `gorm:"not null"`
	AnalysesCount  int64   `gorm:"not null"`
}

func (WeeklyPerformanceRollup) TableName() string { return "weekly_performance_rollups" }

// ProjectQualityRollup is the per-project quality overview.
type ProjectQualityRollup struct {
	ID                 int64         `gorm:"primaryKey;autoIncrement"`
	Generation         int64         `gorm:"not null;index:idx_quality_gen,priority:1"`
	ProjectID          string        `gorm:"type:text;not null;index:idx_quality_gen,priority:2"`
	ComplianceScore    sql.NullInt64
	QualityScore       sql.NullInt64
	SecurityScore      sql.NullInt64
	PerformanceScore   sql.NullInt64
	TotalViolations    int64         `gorm:"not null"`
	OpenViolations     int64         `gorm:"not null"`
	CriticalViolations int64         `gorm:"not null"`
	LastAnalysisAt     sql.NullTime
}

func (ProjectQualityRollup) TableName() string { return "project_quality_rollups" }

// ProjectSimilarityRollup holds pairwise project similarity from embedding
// centroids. Pairs are stored once with project_a < project_b.
type ProjectSimilarityRollup struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	Generation int64   `gorm:"not null;index:idx_similarity_gen,priority:1"`
	ProjectA   string  `gorm:"type:text;not null;index:idx_similarity_gen,priority:2"`
	ProjectB   string  `gorm:"type:text;not null"`
	Model      string  `gorm:"type:text;not null"`
	Similarity float64 `gorm:"not null"`
}

func (ProjectSimilarityRollup) TableName() string { return "project_similarity_rollups" }
