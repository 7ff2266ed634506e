package rollup

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thebtf/codeaudit/internal/config"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/pkg/models"
)

func newTestRefresher(t *testing.T) (*Refresher, *gormdb.Store) {
	t.Helper()

	store, err := gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(t.TempDir(), "rollup_test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.RollupKeepGenerations = 2
	return NewRefresher(store, cfg, zerolog.Nop()), store
}

func seedProject(t *testing.T, db *gorm.DB, id, owner string) {
	t.Helper()
	require.NoError(t, db.Create(&gormdb.Actor{
		ID: owner, Name: owner, Role: string(models.RoleContributor),
	}).Error)
	require.NoError(t, db.Create(&gormdb.Project{
		ID: id, OwnerID: owner, Name: id, Status: string(models.ProjectActive),
	}).Error)
}

func seedCompletedAnalysis(t *testing.T, db *gorm.DB, projectID string, compliance, performance int64, completedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&gormdb.Analysis{
		ProjectID:        projectID,
		Status:           string(models.AnalysisCompleted),
		ComplianceScore:  sql.NullInt64{Int64: compliance, Valid: true},
		PerformanceScore: sql.NullInt64{Int64: performance, Valid: true},
		TotalViolations:  2,
		CompletedAt:      sql.NullTime{Time: completedAt, Valid: true},
		DurationMillis:   sql.NullInt64{Int64: 1500, Valid: true},
	}).Error)
}

func publishedGeneration(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	var gen gormdb.RollupGeneration
	err := db.Where("name = ?", name).First(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	require.NoError(t, err)
	return gen.Generation
}

func TestRefreshAllPublishesEveryRollup(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedCompletedAnalysis(t, store.DB, "p1", 80, 70, time.Now().UTC().Add(-2*time.Hour))
	seedCompletedAnalysis(t, store.DB, "p1", 90, 75, time.Now().UTC().Add(-1*time.Hour))

	result, err := r.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 4)
	assert.Empty(t, result.Failed)

	for _, name := range []string{
		gormdb.RollupDailyCompliance,
		gormdb.RollupWeeklyPerformance,
		gormdb.RollupProjectQuality,
		gormdb.RollupProjectSimilarity,
	} {
		assert.Equal(t, int64(1), publishedGeneration(t, store.DB, name), name)
	}

	var daily []gormdb.DailyComplianceRollup
	require.NoError(t, store.DB.Where("generation = ?", 1).Find(&daily).Error)
	require.Len(t, daily, 1)
	assert.Equal(t, "p1", daily[0].ProjectID)
	assert.InDelta(t, 85.0, daily[0].AvgCompliance, 1e-9)
	assert.Equal(t, int64(80), daily[0].MinCompliance)
	assert.Equal(t, int64(90), daily[0].MaxCompliance)
	assert.Equal(t, int64(2), daily[0].AnalysesCount)
	assert.Equal(t, int64(4), daily[0].ViolationsFound)
}

func TestRefreshIsReproducible(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedProject(t, store.DB, "p2", "u2")
	now := time.Now().UTC()
	seedCompletedAnalysis(t, store.DB, "p1", 60, 50, now.Add(-30*time.Hour))
	seedCompletedAnalysis(t, store.DB, "p1", 70, 55, now.Add(-4*time.Hour))
	seedCompletedAnalysis(t, store.DB, "p2", 95, 90, now.Add(-3*time.Hour))

	_, err := r.RefreshAll(context.Background())
	require.NoError(t, err)
	_, err = r.RefreshAll(context.Background())
	require.NoError(t, err)

	type flatRow struct {
		ProjectID     string
		Day           string
		AvgCompliance float64
		AnalysesCount int64
	}
	load := func(gen int64) []flatRow {
		var rows []gormdb.DailyComplianceRollup
		require.NoError(t, store.DB.
			Where("generation = ?", gen).
			Order("project_id ASC, day ASC").
			Find(&rows).Error)
		out := make([]flatRow, len(rows))
		for i, row := range rows {
			out[i] = flatRow{row.ProjectID, row.Day, row.AvgCompliance, row.AnalysesCount}
		}
		return out
	}

	assert.Equal(t, load(1), load(2))
}

func TestPartialFailureIsIsolated(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedCompletedAnalysis(t, store.DB, "p1", 80, 70, time.Now().UTC().Add(-1*time.Hour))

	boom := errors.New("compute exploded")
	r.SetDefinitions([]Definition{
		{Name: gormdb.RollupDailyCompliance, Compute: r.computeDailyCompliance},
		{Name: gormdb.RollupProjectQuality, Compute: func(*gorm.DB, int64) error { return boom }},
	})

	result, err := r.RefreshAll(context.Background())
	require.ErrorIs(t, err, models.ErrPartialMaintenanceFailure)
	assert.Equal(t, []string{gormdb.RollupDailyCompliance}, result.Succeeded)
	require.Contains(t, result.Failed, gormdb.RollupProjectQuality)
	assert.ErrorIs(t, result.Failed[gormdb.RollupProjectQuality], boom)

	// The healthy rollup published; the failed one never moved its pointer.
	assert.Equal(t, int64(1), publishedGeneration(t, store.DB, gormdb.RollupDailyCompliance))
	assert.Equal(t, int64(0), publishedGeneration(t, store.DB, gormdb.RollupProjectQuality))
}

func TestFailedRefreshKeepsPreviousGeneration(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedCompletedAnalysis(t, store.DB, "p1", 80, 70, time.Now().UTC().Add(-1*time.Hour))

	_, err := r.RefreshAll(context.Background())
	require.NoError(t, err)

	r.SetDefinitions([]Definition{
		{Name: gormdb.RollupDailyCompliance, Compute: func(*gorm.DB, int64) error {
			return errors.New("transient")
		}},
	})
	_, err = r.RefreshAll(context.Background())
	require.ErrorIs(t, err, models.ErrPartialMaintenanceFailure)

	// Readers keep seeing generation 1 and its rows.
	assert.Equal(t, int64(1), publishedGeneration(t, store.DB, gormdb.RollupDailyCompliance))
	var count int64
	require.NoError(t, store.DB.Model(&gormdb.DailyComplianceRollup{}).
		Where("generation = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOldGenerationsArePruned(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedCompletedAnalysis(t, store.DB, "p1", 80, 70, time.Now().UTC().Add(-1*time.Hour))

	for i := 0; i < 3; i++ {
		_, err := r.RefreshAll(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), publishedGeneration(t, store.DB, gormdb.RollupDailyCompliance))

	var generations []int64
	require.NoError(t, store.DB.Model(&gormdb.DailyComplianceRollup{}).
		Distinct("generation").
		Order("generation ASC").
		Pluck("generation", &generations).Error)
	assert.Equal(t, []int64{2, 3}, generations)
}

func TestProjectQualityIncludesProjectsWithoutRuns(t *testing.T) {
	r, store := newTestRefresher(t)
	seedProject(t, store.DB, "p1", "u1")
	seedProject(t, store.DB, "p2", "u2")
	seedCompletedAnalysis(t, store.DB, "p1", 88, 77, time.Now().UTC().Add(-1*time.Hour))

	_, err := r.RefreshAll(context.Background())
	require.NoError(t, err)

	var rows []gormdb.ProjectQualityRollup
	require.NoError(t, store.DB.
		Where("generation = ?", 1).
		Order("project_id ASC").
		Find(&rows).Error)
	require.Len(t, rows, 2)

	assert.Equal(t, "p1", rows[0].ProjectID)
	assert.True(t, rows[0].ComplianceScore.Valid)
	assert.Equal(t, int64(88), rows[0].ComplianceScore.Int64)

	assert.Equal(t, "p2", rows[1].ProjectID)
	assert.False(t, rows[1].ComplianceScore.Valid)
	assert.False(t, rows[1].LastAnalysisAt.Valid)
}

func TestWeekKeyStartsOnMonday(t *testing.T) {
	// 2026-08-26 is a Wednesday; its week starts 2026-08-24.
	wed := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-24", weekKey(wed))

	mon := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-24", weekKey(mon))

	sun := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-24", weekKey(sun))
}
