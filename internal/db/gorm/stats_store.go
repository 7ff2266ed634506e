package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// Rollup names referenced by readers and the refresher. The generation
// pointer in rollup_generations is keyed by these.
const (
	RollupDailyCompliance   = "daily_compliance"
	RollupWeeklyPerformance = "weekly_performance"
	RollupProjectQuality    = "project_quality"
	RollupProjectSimilarity = "project_similarity"
)

// StatsStore serves aggregate reads: live statistics from raw tables and
// trend queries from the rollup layer.
type StatsStore struct {
	db *gorm.DB
}

// NewStatsStore creates a new stats store.
func NewStatsStore(store *Store) *StatsStore {
	return &StatsStore{db: store.DB}
}

// ProjectStatistics is the aggregate view of a single project.
type ProjectStatistics struct {
	ProjectID            string                    `json:"project_id"`
	TotalAnalyses        int64                     `json:"total_analyses"`
	CompletedAnalyses    int64                     `json:"completed_analyses"`
	TotalViolations      int64                     `json:"total_violations"`
	OpenViolations       int64                     `json:"open_violations"`
	ViolationsBySeverity map[models.Severity]int64 `json:"violations_by_severity"`
	ComplianceScore      *int64                    `json:"compliance_score,omitempty"` // most recent completed run
	LastAnalysisAt       *time.Time                `json:"last_analysis_at,omitempty"`
}

// TrendPoint is one time bucket of a trend query.
type TrendPoint struct {
	Bucket          string  `json:"bucket"` // day or week start, YYYY-MM-DD
	AvgCompliance   float64 `json:"avg_compliance"`
	MinCompliance   int64   `json:"min_compliance"`
	MaxCompliance   int64   `json:"max_compliance"`
	AnalysesCount   int64   `json:"analyses_count"`
	ViolationsFound int64   `json:"violations_found"`
}

// GetProjectStatistics computes live counts and scores for a project the
// actor may see. Denied and absent projects are indistinguishable.
func (s *StatsStore) GetProjectStatistics(ctx context.Context, actor models.Actor, projectID string) (*ProjectStatistics, error) {
	stats := &ProjectStatistics{
		ProjectID:            projectID,
		ViolationsBySeverity: make(map[models.Severity]int64, len(models.AllSeverities)),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}

		if err := tx.Model(&Analysis{}).Where("project_id = ?", projectID).
			Count(&stats.TotalAnalyses).Error; err != nil {
			return classifyError(err, "analyses")
		}
		if err := tx.Model(&Analysis{}).
			Where("project_id = ? AND status = ?", projectID, string(models.AnalysisCompleted)).
			Count(&stats.CompletedAnalyses).Error; err != nil {
			return classifyError(err, "analyses")
		}

		if err := tx.Model(&Violation{}).Where("project_id = ?", projectID).
			Count(&stats.TotalViolations).Error; err != nil {
			return classifyError(err, "violations")
		}
		if err := tx.Model(&Violation{}).
			Where("project_id = ? AND status IN ?", projectID, []string{
				string(models.ViolationOpen), string(models.ViolationInProgress),
			}).
			Count(&stats.OpenViolations).Error; err != nil {
			return classifyError(err, "violations")
		}

		type severityCount struct {
			Severity string
			Count    int64
		}
		var bySeverity []severityCount
		if err := tx.Model(&Violation{}).
			Select("severity, COUNT(*) AS count").
			Where("project_id = ?", projectID).
			Group("severity").
			Scan(&bySeverity).Error; err != nil {
			return classifyError(err, "violations")
		}
		for _, sc := range bySeverity {
			stats.ViolationsBySeverity[models.Severity(sc.Severity)] = sc.Count
		}

		// Compliance comes from the most recent completed run.
		var latest Analysis
		err := tx.Where("project_id = ? AND status = ?", projectID, string(models.AnalysisCompleted)).
			Order("completed_at DESC, id DESC").
			First(&latest).Error
		if err == nil {
			if latest.ComplianceScore.Valid {
				score := latest.ComplianceScore.Int64
				stats.ComplianceScore = &score
			}
			if latest.CompletedAt.Valid {
				at := latest.CompletedAt.Time
				stats.LastAnalysisAt = &at
			}
		} else if cerr := classifyError(err, "analyses"); !errors.Is(cerr, models.ErrNotFound) {
			return cerr
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetComplianceTrend returns daily compliance buckets for the last daysBack
// days, served from the rollup layer's published generation. The trend is as
// fresh as the last refresh, not the last write.
func (s *StatsStore) GetComplianceTrend(ctx context.Context, actor models.Actor, projectID string, daysBack int) ([]TrendPoint, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	cutoff := time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")

	var points []TrendPoint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}

		return classifyError(tx.Model(&DailyComplianceRollup{}).
			Select("day AS bucket, avg_compliance, min_compliance, max_compliance, analyses_count, violations_found").
			Where("generation = (?)", currentGeneration(tx, RollupDailyCompliance)).
			Where("project_id = ? AND day >= ?", projectID, cutoff).
			Order("day ASC").
			Scan(&points).Error, "daily_compliance_rollups")
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// PerformancePoint is one week bucket of the performance trend.
type PerformancePoint struct {
	WeekStart      string  `json:"week_start"`
	AvgPerformance float64 `json:"avg_performance"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	AnalysesCount  int64   `json:"analyses_count"`
}

// GetPerformanceTrend returns weekly performance buckets from the rollup
// layer.
func (s *StatsStore) GetPerformanceTrend(ctx context.Context, actor models.Actor, projectID string, weeksBack int) ([]PerformancePoint, error) {
	if weeksBack <= 0 {
		weeksBack = 12
	}
	cutoff := time.Now().AddDate(0, 0, -7*weeksBack).Format("2006-01-02")

	var points []PerformancePoint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}

		return classifyError(tx.Model(&WeeklyPerformanceRollup{}).
			Select("week_start, avg_performance, avg_duration_ms, analyses_count").
			Where("generation = (?)", currentGeneration(tx, RollupWeeklyPerformance)).
			Where("project_id = ? AND week_start >= ?", projectID, cutoff).
			Order("week_start ASC").
			Scan(&points).Error, "weekly_performance_rollups")
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// QualityOverview is the rollup-backed quality summary of one project.
type QualityOverview struct {
	ProjectID          string     `json:"project_id"`
	ComplianceScore    *int64     `json:"compliance_score,omitempty"`
	QualityScore       *int64     `json:"quality_score,omitempty"`
	SecurityScore      *int64     `json:"security_score,omitempty"`
	PerformanceScore   *int64     `json:"performance_score,omitempty"`
	TotalViolations    int64      `json:"total_violations"`
	OpenViolations     int64      `json:"open_violations"`
	CriticalViolations int64      `json:"critical_violations"`
	LastAnalysisAt     *time.Time `json:"last_analysis_at,omitempty"`
}

// GetQualityOverview returns the published quality rollup row for a project.
func (s *StatsStore) GetQualityOverview(ctx context.Context, actor models.Actor, projectID string) (*QualityOverview, error) {
	var out QualityOverview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := visibleProjects(tx, actor).First(&project, "projects.id = ?", projectID).Error; err != nil {
			return classifyError(err, "projects")
		}

		var row ProjectQualityRollup
		err := tx.Where("generation = (?)", currentGeneration(tx, RollupProjectQuality)).
			Where("project_id = ?", projectID).
			First(&row).Error
		if err != nil {
			return classifyError(err, "project_quality_rollups")
		}

		out = QualityOverview{
			ProjectID:          row.ProjectID,
			TotalViolations:    row.TotalViolations,
			OpenViolations:     row.OpenViolations,
			CriticalViolations: row.CriticalViolations,
		}
		if row.ComplianceScore.Valid {
			out.ComplianceScore = &row.ComplianceScore.Int64
		}
		if row.QualityScore.Valid {
			out.QualityScore = &row.QualityScore.Int64
		}
		if row.SecurityScore.Valid {
			out.SecurityScore = &row.SecurityScore.Int64
		}
		if row.PerformanceScore.Valid {
			out.PerformanceScore = &row.PerformanceScore.Int64
		}
		if row.LastAnalysisAt.Valid {
			out.LastAnalysisAt = &row.LastAnalysisAt.Time
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// currentGeneration is the subquery resolving a rollup's published
// generation.
func currentGeneration(tx *gorm.DB, name string) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true}).
		Model(&RollupGeneration{}).
		Select("generation").
		Where("name = ?", name)
}
