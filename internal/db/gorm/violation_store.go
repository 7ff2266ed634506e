package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// ViolationStore provides violation operations. Visibility is always derived
// from the owning project.
type ViolationStore struct {
	db    *gorm.DB
	audit *AuditStore
}

// NewViolationStore creates a new violation store.
func NewViolationStore(store *Store, audit *AuditStore) *ViolationStore {
	return &ViolationStore{db: store.DB, audit: audit}
}

// NewViolation describes a violation to record.
type NewViolation struct {
	ProjectID  string
	AnalysisID *int64
	Rule       string
	Severity   models.Severity
	FilePath   string
	LineNumber *int64
	Message    string
}

// CreateViolation records a violation against a project the actor may
// mutate. Severity is a closed enumeration; unknown values are rejected, not
// coerced.
func (s *ViolationStore) CreateViolation(ctx context.Context, actor models.Actor, v NewViolation) (*models.Violation, error) {
	if !v.Severity.Valid() {
		return nil, &models.ConstraintError{Kind: models.ConstraintDomain, Table: "violations", Detail: "invalid severity: " + string(v.Severity)}
	}

	var row Violation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := mutableProject(tx, actor, v.ProjectID); err != nil {
			return err
		}

		if v.AnalysisID != nil {
			var analysis Analysis
			err := tx.First(&analysis, "id = ? AND project_id = ?", *v.AnalysisID, v.ProjectID).Error
			if err != nil {
				return classifyError(err, "analyses")
			}
		}

		row = Violation{
			ProjectID:  v.ProjectID,
			AnalysisID: nullInt64(v.AnalysisID),
			Rule:       v.Rule,
			Severity:   string(v.Severity),
			Status:     string(models.ViolationOpen),
			FilePath:   nullString(v.FilePath),
			LineNumber: nullInt64(v.LineNumber),
			Message:    v.Message,
		}
		return classifyError(tx.Create(&row).Error, "violations")
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor, "violation.create", models.ResourceProject, v.ProjectID)
	return toModelViolation(&row), nil
}

// UpdateStatus moves a violation through its triage states. Unlike analysis
// runs, triage has no ordering: any status may move to any other, including
// reopening a resolved or false-positive violation. Resolution fields are
// only writable when the new status carries resolution; moving back to open
// or in_progress clears them so the null-unless-resolved invariant holds.
func (s *ViolationStore) UpdateStatus(ctx context.Context, actor models.Actor, id int64, status models.ViolationStatus, note string) error {
	if !status.Valid() {
		return &models.ConstraintError{Kind: models.ConstraintDomain, Table: "violations", Detail: "invalid status: " + string(status)}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Violation
		err := scopeByProject(tx.Model(&Violation{}), actor, "violations.project_id").
			First(&row, "violations.id = ?", id).Error
		if err != nil {
			return classifyError(err, "violations")
		}
		if _, err := mutableProject(tx, actor, row.ProjectID); err != nil {
			return err
		}

		updates := map[string]interface{}{"status": string(status)}
		if status.Resolved() {
			updates["resolved_by"] = actor.ID
			updates["resolved_at"] = time.Now()
			updates["resolution_note"] = nullString(note)
		} else {
			updates["resolved_by"] = nil
			updates["resolved_at"] = nil
			updates["resolution_note"] = nil
		}

		if err := tx.Model(&Violation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return classifyError(err, "violations")
		}

		return s.audit.RecordTx(tx, actor, "violation."+string(status), models.ResourceProject, row.ProjectID)
	})
}

// GetViolation fetches a violation whose project the actor may see.
func (s *ViolationStore) GetViolation(ctx context.Context, actor models.Actor, id int64) (*models.Violation, error) {
	var row Violation
	err := scopeByProject(s.db.WithContext(ctx).Model(&Violation{}), actor, "violations.project_id").
		First(&row, "violations.id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "violations")
	}
	return toModelViolation(&row), nil
}

// ListByProject returns a project's violations, newest first, optionally
// filtered by status.
func (s *ViolationStore) ListByProject(ctx context.Context, actor models.Actor, projectID string, status models.ViolationStatus, limit int) ([]*models.Violation, error) {
	q := scopeByProject(s.db.WithContext(ctx).Model(&Violation{}), actor, "violations.project_id").
		Where("violations.project_id = ?", projectID)
	if status != "" {
		q = q.Where("violations.status = ?", string(status))
	}

	var rows []Violation
	err := q.Order("created_at DESC, id DESC").
		Limit(clampLimit(limit, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "violations")
	}

	out := make([]*models.Violation, len(rows))
	for i := range rows {
		out[i] = toModelViolation(&rows[i])
	}
	return out, nil
}

// ListByAnalysis returns the violations an analysis run produced.
func (s *ViolationStore) ListByAnalysis(ctx context.Context, actor models.Actor, analysisID int64, limit int) ([]*models.Violation, error) {
	var rows []Violation
	err := scopeByProject(s.db.WithContext(ctx).Model(&Violation{}), actor, "violations.project_id").
		Where("violations.analysis_id = ?", analysisID).
		Order("id ASC").
		Limit(clampLimit(limit, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "violations")
	}

	out := make([]*models.Violation, len(rows))
	for i := range rows {
		out[i] = toModelViolation(&rows[i])
	}
	return out, nil
}

// PruneResolvedOlderThan deletes resolved violations past the retention
// window. Open violations are never swept.
func (s *ViolationStore) PruneResolvedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND resolved_at < ?", []string{
			string(models.ViolationResolved),
			string(models.ViolationFalsePositive),
			string(models.ViolationSuppressed),
			string(models.ViolationWontFix),
		}, cutoff).
		Delete(&Violation{})
	return res.RowsAffected, classifyError(res.Error, "violations")
}

// toModelViolation converts a database row to the domain model.
func toModelViolation(row *Violation) *models.Violation {
	return &models.Violation{
		ID:             row.ID,
		ProjectID:      row.ProjectID,
		AnalysisID:     row.AnalysisID,
		Rule:           row.Rule,
		Severity:       models.Severity(row.Severity),
		Status:         models.ViolationStatus(row.Status),
		FilePath:       row.FilePath,
		LineNumber:     row.LineNumber,
		Message:        row.Message,
		ResolvedBy:     row.ResolvedBy,
		ResolvedAt:     row.ResolvedAt,
		ResolutionNote: row.ResolutionNote,
		CreatedAt:      row.CreatedAt,
	}
}
