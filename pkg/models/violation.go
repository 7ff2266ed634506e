package models

import (
	"database/sql"
	"time"
)

// Severity represents the severity of a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities lists every valid severity, highest first.
var AllSeverities = []Severity{
	SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo,
}

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// ViolationStatus represents the triage state of a violation.
type ViolationStatus string

const (
	ViolationOpen          ViolationStatus = "open"
	ViolationInProgress    ViolationStatus = "in_progress"
	ViolationResolved      ViolationStatus = "resolved"
	ViolationFalsePositive ViolationStatus = "false_positive"
	ViolationSuppressed    ViolationStatus = "suppressed"
	ViolationWontFix       ViolationStatus = "wont_fix"
)

// Valid reports whether the status is a known value.
func (s ViolationStatus) Valid() bool {
	switch s {
	case ViolationOpen, ViolationInProgress, ViolationResolved,
		ViolationFalsePositive, ViolationSuppressed, ViolationWontFix:
		return true
	}
	return false
}

// Resolved reports whether the status carries resolution metadata.
// Resolution fields must stay null while the violation is open or in
// progress.
func (s ViolationStatus) Resolved() bool {
	switch s {
	case ViolationResolved, ViolationFalsePositive, ViolationSuppressed, ViolationWontFix:
		return true
	}
	return false
}

// Violation is a single rule breach found in a project, optionally tied to
// the analysis run that detected it.
type Violation struct {
	ID             int64           `json:"id"`
	ProjectID      string          `json:"project_id"`
	AnalysisID     sql.NullInt64   `json:"analysis_id,omitempty"`
	Rule           string          `json:"rule"`
	Severity       Severity        `json:"severity"`
	Status         ViolationStatus `json:"status"`
	FilePath       sql.NullString  `json:"file_path,omitempty"`
	LineNumber     sql.NullInt64   `json:"line_number,omitempty"`
	Message        string          `json:"message"`
	ResolvedBy     sql.NullString  `json:"resolved_by,omitempty"`
	ResolvedAt     sql.NullTime    `json:"resolved_at,omitempty"`
	ResolutionNote sql.NullString  `json:"resolution_note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
