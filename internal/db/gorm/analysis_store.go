package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// AnalysisStore provides analysis-run operations. Status transitions are
// validated against the pending -> in_progress -> terminal state machine in
// the same transaction as the update; terminal runs are immutable.
type AnalysisStore struct {
	db    *gorm.DB
	audit *AuditStore
}

// NewAnalysisStore creates a new analysis store.
func NewAnalysisStore(store *Store, audit *AuditStore) *AnalysisStore {
	return &AnalysisStore{db: store.DB, audit: audit}
}

// AnalysisScores carries the score set recorded on completion. Each value is
// 0-100.
type AnalysisScores struct {
	Compliance  int64
	Quality     int64
	Security    int64
	Performance int64
}

// CreateAnalysis registers a pending run against a project the actor may
// mutate.
func (s *AnalysisStore) CreateAnalysis(ctx context.Context, actor models.Actor, projectID string) (*models.Analysis, error) {
	var row Analysis

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireWritableProject(tx, actor, projectID); err != nil {
			return err
		}

		row = Analysis{ProjectID: projectID, Status: string(models.AnalysisPending)}
		return classifyError(tx.Create(&row).Error, "analyses")
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor, "analysis.create", models.ResourceProject, projectID)
	return toModelAnalysis(&row), nil
}

// StartAnalysis moves a pending run to in_progress and stamps the start
// time.
func (s *AnalysisStore) StartAnalysis(ctx context.Context, actor models.Actor, id int64) error {
	return s.transition(ctx, actor, id, models.AnalysisInProgress, func(row *Analysis, now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"status":     string(models.AnalysisInProgress),
			"started_at": now,
		}
	})
}

// CompleteAnalysis finishes a run with its scores. Violation counts are
// recomputed from the violations table inside the same transaction so the
// denormalized counters cannot drift from the raw rows.
func (s *AnalysisStore) CompleteAnalysis(ctx context.Context, actor models.Actor, id int64, scores AnalysisScores) error {
	for _, v := range []int64{scores.Compliance, scores.Quality, scores.Security, scores.Performance} {
		if !models.ValidScore(v) {
			return &models.ConstraintError{Kind: models.ConstraintDomain, Table: "analyses", Detail: "score outside 0-100"}
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.lockForTransition(tx, actor, id, models.AnalysisCompleted)
		if err != nil {
			return err
		}

		var total, critical int64
		if err := tx.Model(&Violation{}).Where("analysis_id = ?", id).Count(&total).Error; err != nil {
			return classifyError(err, "violations")
		}
		if err := tx.Model(&Violation{}).
			Where("analysis_id = ? AND severity = ?", id, string(models.SeverityCritical)).
			Count(&critical).Error; err != nil {
			return classifyError(err, "violations")
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":              string(models.AnalysisCompleted),
			"compliance_score":    scores.Compliance,
			"quality_score":       scores.Quality,
			"security_score":      scores.Security,
			"performance_score":   scores.Performance,
			"total_violations":    total,
			"critical_violations": critical,
			"completed_at":        now,
		}
		if row.StartedAt.Valid {
			updates["duration_ms"] = now.Sub(row.StartedAt.Time).Milliseconds()
		}

		if err := tx.Model(&Analysis{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return classifyError(err, "analyses")
		}

		return s.audit.RecordTx(tx, actor, "analysis.complete", models.ResourceProject, row.ProjectID)
	})
}

// FailAnalysis marks an in-progress run failed.
func (s *AnalysisStore) FailAnalysis(ctx context.Context, actor models.Actor, id int64) error {
	return s.transition(ctx, actor, id, models.AnalysisFailed, func(row *Analysis, now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"status":       string(models.AnalysisFailed),
			"completed_at": now,
		}
	})
}

// CancelAnalysis cancels a pending or in-progress run.
func (s *AnalysisStore) CancelAnalysis(ctx context.Context, actor models.Actor, id int64) error {
	return s.transition(ctx, actor, id, models.AnalysisCancelled, func(row *Analysis, now time.Time) map[string]interface{} {
		return map[string]interface{}{
			"status":       string(models.AnalysisCancelled),
			"completed_at": now,
		}
	})
}

// GetAnalysis fetches a run whose project the actor may see.
func (s *AnalysisStore) GetAnalysis(ctx context.Context, actor models.Actor, id int64) (*models.Analysis, error) {
	var row Analysis
	err := scopeByProject(s.db.WithContext(ctx).Model(&Analysis{}), actor, "analyses.project_id").
		First(&row, "analyses.id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "analyses")
	}
	return toModelAnalysis(&row), nil
}

// ListByProject returns a project's runs, newest first.
func (s *AnalysisStore) ListByProject(ctx context.Context, actor models.Actor, projectID string, limit int) ([]*models.Analysis, error) {
	var rows []Analysis
	err := scopeByProject(s.db.WithContext(ctx).Model(&Analysis{}), actor, "analyses.project_id").
		Where("analyses.project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err, "analyses")
	}

	out := make([]*models.Analysis, len(rows))
	for i := range rows {
		out[i] = toModelAnalysis(&rows[i])
	}
	return out, nil
}

// PruneTerminalOlderThan deletes failed and cancelled runs past the
// retention window. Completed runs feed the rollups and are never swept
// here.
func (s *AnalysisStore) PruneTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{
			string(models.AnalysisFailed),
			string(models.AnalysisCancelled),
		}, cutoff).
		Delete(&Analysis{})
	return res.RowsAffected, classifyError(res.Error, "analyses")
}

// transition applies a simple status transition.
func (s *AnalysisStore) transition(
	ctx context.Context,
	actor models.Actor,
	id int64,
	next models.AnalysisStatus,
	updatesFn func(row *Analysis, now time.Time) map[string]interface{},
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.lockForTransition(tx, actor, id, next)
		if err != nil {
			return err
		}

		if err := tx.Model(&Analysis{}).Where("id = ?", id).
			Updates(updatesFn(row, time.Now())).Error; err != nil {
			return classifyError(err, "analyses")
		}

		return s.audit.RecordTx(tx, actor, "analysis."+string(next), models.ResourceProject, row.ProjectID)
	})
}

// lockForTransition loads the run under the actor's scope and validates the
// requested transition.
func (s *AnalysisStore) lockForTransition(tx *gorm.DB, actor models.Actor, id int64, next models.AnalysisStatus) (*Analysis, error) {
	if actor.Role == models.RoleViewer {
		return nil, models.ErrNotFound
	}

	var row Analysis
	err := scopeByProject(tx.Model(&Analysis{}), actor, "analyses.project_id").
		First(&row, "analyses.id = ?", id).Error
	if err != nil {
		return nil, classifyError(err, "analyses")
	}
	if _, err := mutableProject(tx, actor, row.ProjectID); err != nil {
		return nil, err
	}

	current := models.AnalysisStatus(row.Status)
	if !current.CanTransitionTo(next) {
		return nil, &models.ConstraintError{
			Kind:   models.ConstraintDomain,
			Table:  "analyses",
			Detail: "transition " + row.Status + " -> " + string(next) + " not permitted",
		}
	}
	return &row, nil
}

// requireWritableProject verifies the actor may mutate resources under the
// project: owner or admin. Grantees and viewers never write.
func (s *AnalysisStore) requireWritableProject(tx *gorm.DB, actor models.Actor, projectID string) error {
	_, err := mutableProject(tx, actor, projectID)
	return err
}

// toModelAnalysis converts a database row to the domain model.
func toModelAnalysis(row *Analysis) *models.Analysis {
	return &models.Analysis{
		ID:                 row.ID,
		ProjectID:          row.ProjectID,
		Status:             models.AnalysisStatus(row.Status),
		ComplianceScore:    row.ComplianceScore,
		QualityScore:       row.QualityScore,
		SecurityScore:      row.SecurityScore,
		PerformanceScore:   row.PerformanceScore,
		TotalViolations:    row.TotalViolations,
		CriticalViolations: row.CriticalViolations,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
		DurationMillis:     row.DurationMillis,
		CreatedAt:          row.CreatedAt,
	}
}
