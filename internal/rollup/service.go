// Package rollup recomputes derived summary tables from raw data. Each
// rollup is a pure function of raw-table state: a refresh computes a fresh
// generation and publishes it with a pointer swap, so readers see the old
// generation until the new one is complete. Nothing is patched
// incrementally.
package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/codeaudit/internal/config"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/pkg/models"
)

// refreshParallelism bounds how many rollups recompute at once.
const refreshParallelism = 2

// ComputeFunc populates one rollup's rows for the given generation inside
// the refresh transaction.
type ComputeFunc func(tx *gorm.DB, generation int64) error

// Definition binds a rollup name to its compute function.
type Definition struct {
	Name    string
	Compute ComputeFunc
}

// Result reports the outcome of one refresh cycle.
type Result struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"failed,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Refresher drives rollup recomputation.
type Refresher struct {
	store *gormdb.Store
	cfg   *config.Config
	log   zerolog.Logger
	defs  []Definition
}

// NewRefresher creates a refresher with the default rollup set.
func NewRefresher(store *gormdb.Store, cfg *config.Config, log zerolog.Logger) *Refresher {
	r := &Refresher{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "rollup").Logger(),
	}
	r.defs = r.defaultDefinitions()
	return r
}

// SetDefinitions replaces the rollup set. Used by tests to inject failures.
func (r *Refresher) SetDefinitions(defs []Definition) {
	r.defs = defs
}

// RefreshAll recomputes every rollup. Rollups are independent: one failure
// is recorded and the rest continue; the next cycle retries all of them.
// Returns ErrPartialMaintenanceFailure when at least one rollup failed.
func (r *Refresher) RefreshAll(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Failed: make(map[string]error)}

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(refreshParallelism)

	for _, def := range r.defs {
		def := def
		g.Go(func() error {
			err := r.refreshOne(ctx, def)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Isolated: recorded, never propagated to siblings.
				r.log.Error().Err(err).Str("rollup", def.Name).Msg("Rollup refresh failed")
				result.Failed[def.Name] = err
			} else {
				result.Succeeded = append(result.Succeeded, def.Name)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)

	r.log.Info().
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("Rollup refresh cycle complete")

	if len(result.Failed) > 0 {
		return result, models.ErrPartialMaintenanceFailure
	}
	return result, nil
}

// refreshOne recomputes a single rollup. The new generation's rows, the
// pointer swap and the garbage collection of old generations commit
// together; a failure anywhere rolls the whole thing back, leaving the
// previous generation published.
func (r *Refresher) refreshOne(ctx context.Context, def Definition) error {
	return r.store.Transaction(ctx, gormdb.SlowQueryTimeout, func(tx *gorm.DB) error {
		var current gormdb.RollupGeneration
		err := tx.Where("name = ?", def.Name).First(&current).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		next := current.Generation + 1

		if err := def.Compute(tx, next); err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"generation", "refreshed_at"}),
		}).Create(&gormdb.RollupGeneration{
			Name:        def.Name,
			Generation:  next,
			RefreshedAt: time.Now(),
		}).Error; err != nil {
			return err
		}

		keep := int64(r.cfg.RollupKeepGenerations)
		if keep < 1 {
			keep = 1
		}
		return r.pruneGenerations(tx, def.Name, next-keep+1)
	})
}

// pruneGenerations deletes rollup rows older than the oldest retained
// generation.
func (r *Refresher) pruneGenerations(tx *gorm.DB, name string, oldest int64) error {
	var target interface{}
	switch name {
	case gormdb.RollupDailyCompliance:
		target = &gormdb.DailyComplianceRollup{}
	case gormdb.RollupWeeklyPerformance:
		target = &gormdb.WeeklyPerformanceRollup{}
	case gormdb.RollupProjectQuality:
		target = &gormdb.ProjectQualityRollup{}
	case gormdb.RollupProjectSimilarity:
		target = &gormdb.ProjectSimilarityRollup{}
	default:
		return nil
	}
	return tx.Where("generation < ?", oldest).Delete(target).Error
}

// defaultDefinitions lists the production rollup set.
func (r *Refresher) defaultDefinitions() []Definition {
	return []Definition{
		{Name: gormdb.RollupDailyCompliance, Compute: r.computeDailyCompliance},
		{Name: gormdb.RollupWeeklyPerformance, Compute: r.computeWeeklyPerformance},
		{Name: gormdb.RollupProjectQuality, Compute: r.computeProjectQuality},
		{Name: gormdb.RollupProjectSimilarity, Compute: r.computeProjectSimilarity},
	}
}
