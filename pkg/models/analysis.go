package models

import (
	"database/sql"
	"time"
)

// AnalysisStatus represents the state of an analysis run.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisCancelled  AnalysisStatus = "cancelled"
)

// Valid reports whether the status is a known value.
func (s AnalysisStatus) Valid() bool {
	switch s {
	case AnalysisPending, AnalysisInProgress, AnalysisCompleted, AnalysisFailed, AnalysisCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status ends the run. Terminal analyses are
// immutable.
func (s AnalysisStatus) Terminal() bool {
	switch s {
	case AnalysisCompleted, AnalysisFailed, AnalysisCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next: pending -> in_progress -> {completed|failed|cancelled}. A pending run
// may also be cancelled directly.
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	switch s {
	case AnalysisPending:
		return next == AnalysisInProgress || next == AnalysisCancelled
	case AnalysisInProgress:
		return next.Terminal()
	}
	return false
}

// Analysis is a single analysis run against a project. Scores are 0-100;
// violation counts are denormalized per severity for cheap statistics reads.
type Analysis struct {
	ID                  int64          `json:"id"`
	ProjectID           string         `json:"project_id"`
	Status              AnalysisStatus `json:"status"`
	ComplianceScore     sql.NullInt64  `json:"compliance_score,omitempty"`
	QualityScore        sql.NullInt64  `json:"quality_score,omitempty"`
	SecurityScore       sql.NullInt64  `json:"security_score,omitempty"`
	PerformanceScore    sql.NullInt64  `json:"performance_score,omitempty"`
	TotalViolations     int            `json:"total_violations"`
	CriticalViolations  int            `json:"critical_violations"`
	StartedAt           sql.NullTime   `json:"started_at,omitempty"`
	CompletedAt         sql.NullTime   `json:"completed_at,omitempty"`
	DurationMillis      sql.NullInt64  `json:"duration_ms,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// ValidScore reports whether v is inside the 0-100 score range.
func ValidScore(v int64) bool { return v >= 0 && v <= 100 }
