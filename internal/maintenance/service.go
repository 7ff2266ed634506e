// Package maintenance provides scheduled maintenance cycles for codeaudit.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/codeaudit/internal/config"
	"github.com/thebtf/codeaudit/internal/db"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/internal/rollup"
	"github.com/thebtf/codeaudit/pkg/models"
)

// State is the scheduler's observable state. Running is exclusive: a trigger
// while a cycle is in flight is rejected, never queued.
type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateSucceeded       State = "succeeded"
	StatePartiallyFailed State = "partially_failed"
	StateFailed          State = "failed"
)

// startupDelay is the pause before the first scheduled cycle.
const startupDelay = 5 * time.Minute

// refresher abstracts the rollup layer so cycles can be tested without it.
type refresher interface {
	RefreshAll(ctx context.Context) (*rollup.Result, error)
}

// indexRequeuer retries embeddings whose index build previously failed.
type indexRequeuer interface {
	ProcessPending(ctx context.Context, includeFailed bool) (int, error)
}

// Service runs maintenance cycles: rollup refresh, retention sweeps, index
// requeue and planner statistics. Each cycle runs under a wall-clock budget.
type Service struct {
	log        zerolog.Logger
	store      *gormdb.Store
	audits     db.RetentionSweeper
	analyses   *gormdb.AnalysisStore
	violations *gormdb.ViolationStore
	refresher  refresher
	requeuer   indexRequeuer
	config     *config.Config

	stopCh chan struct{}
	doneCh chan struct{}

	mu              sync.Mutex
	state           State
	started         bool
	lastRunTime     time.Time
	lastRunDuration time.Duration
	lastFailures    []string
	totalRuns       int64
	totalPruned     int64
}

// NewService creates a new maintenance service.
func NewService(
	store *gormdb.Store,
	audits db.RetentionSweeper,
	analyses *gormdb.AnalysisStore,
	violations *gormdb.ViolationStore,
	rollups refresher,
	requeuer indexRequeuer,
	cfg *config.Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		store:      store,
		audits:     audits,
		analyses:   analyses,
		violations: violations,
		refresher:  rollups,
		requeuer:   requeuer,
		config:     cfg,
		log:        log.With().Str("component", "maintenance").Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		state:      StateIdle,
	}
}

// Start begins the maintenance loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.config.MaintenanceEnabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	interval := max(time.Duration(s.config.MaintenanceIntervalHours)*time.Hour, time.Hour)

	s.log.Info().
		Dur("interval", interval).
		Int("budget_minutes", s.config.MaintenanceBudgetMinutes).
		Msg("Starting maintenance scheduler")

	// Initial run after a stabilization delay.
	startup := time.NewTimer(startupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-startup.C:
		_ = s.runCycle(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			_ = s.runCycle(ctx)
		}
	}
}

// Stop signals the maintenance service to stop. The cycle in flight, if any,
// finishes within its budget.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	close(s.stopCh)
}

// Wait waits for the maintenance loop to finish.
func (s *Service) Wait() {
	<-s.doneCh
}

// State returns the scheduler's current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunNow triggers an immediate cycle on the calling goroutine and reports its
// outcome. Returns ErrMaintenanceInProgress when a cycle is already running.
func (s *Service) RunNow(ctx context.Context) (State, error) {
	return s.runCycleChecked(ctx)
}

// runCycle is the scheduler-path entry; a rejected trigger only means the
// previous tick is still in flight.
func (s *Service) runCycle(ctx context.Context) State {
	state, err := s.runCycleChecked(ctx)
	if err != nil {
		s.log.Warn().Msg("Skipping maintenance tick, previous cycle still running")
	}
	return state
}

func (s *Service) runCycleChecked(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return StateRunning, models.ErrMaintenanceInProgress
	}
	s.state = StateRunning
	s.mu.Unlock()

	outcome := s.execute(ctx)

	s.mu.Lock()
	s.state = outcome
	s.mu.Unlock()
	return outcome, nil
}

// execute runs every maintenance task under the cycle budget. Tasks are
// independent: a failure is recorded and the rest continue.
func (s *Service) execute(ctx context.Context) State {
	start := time.Now()

	budget := time.Duration(s.config.MaintenanceBudgetMinutes) * time.Minute
	if budget <= 0 {
		budget = 30 * time.Minute
	}
	cycleCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	s.log.Info().Dur("budget", budget).Msg("Starting maintenance cycle")

	var (
		tasks    int
		failures []string
		pruned   int64
	)
	fail := func(task string, err error) {
		s.log.Error().Err(err).Str("task", task).Msg("Maintenance task failed")
		failures = append(failures, task)
	}

	// Task 1: rollup refresh.
	tasks++
	if _, err := s.refresher.RefreshAll(cycleCtx); err != nil {
		fail("rollup_refresh", err)
	}

	// Task 2: retention sweeps.
	if s.config.AuditEventRetentionDays > 0 {
		tasks++
		cutoff := time.Now().AddDate(0, 0, -s.config.AuditEventRetentionDays)
		n, err := s.audits.PruneOlderThan(cycleCtx, cutoff)
		if err != nil {
			fail("prune_audit_events", err)
		} else {
			pruned += n
		}
	}
	if s.config.AnalysisRetentionDays > 0 {
		tasks++
		cutoff := time.Now().AddDate(0, 0, -s.config.AnalysisRetentionDays)
		n, err := s.analyses.PruneTerminalOlderThan(cycleCtx, cutoff)
		if err != nil {
			fail("prune_analyses", err)
		} else {
			pruned += n
		}
	}
	if s.config.ViolationRetentionDays > 0 {
		tasks++
		cutoff := time.Now().AddDate(0, 0, -s.config.ViolationRetentionDays)
		n, err := s.violations.PruneResolvedOlderThan(cycleCtx, cutoff)
		if err != nil {
			fail("prune_violations", err)
		} else {
			pruned += n
		}
	}

	// Task 3: retry embeddings that failed indexing.
	tasks++
	if indexed, err := s.requeuer.ProcessPending(cycleCtx, true); err != nil {
		fail("index_requeue", err)
	} else if indexed > 0 {
		s.log.Info().Int("indexed", indexed).Msg("Requeued failed index builds")
	}

	// Task 4: planner statistics.
	tasks++
	if err := s.store.Optimize(cycleCtx); err != nil {
		fail("optimize", err)
	}

	duration := time.Since(start)

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = duration
	s.lastFailures = failures
	s.totalRuns++
	s.totalPruned += pruned
	s.mu.Unlock()

	outcome := StateSucceeded
	switch {
	case len(failures) == tasks:
		outcome = StateFailed
	case len(failures) > 0:
		outcome = StatePartiallyFailed
	}

	s.log.Info().
		Dur("duration", duration).
		Int64("rows_pruned", pruned).
		Strs("failed_tasks", failures).
		Str("outcome", string(outcome)).
		Msg("Maintenance cycle completed")

	return outcome
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"enabled":          s.config.MaintenanceEnabled,
		"interval_hours":   s.config.MaintenanceIntervalHours,
		"budget_minutes":   s.config.MaintenanceBudgetMinutes,
		"state":            string(s.state),
		"last_run":         s.lastRunTime,
		"last_duration_ms": s.lastRunDuration.Milliseconds(),
		"last_failures":    s.lastFailures,
		"total_runs":       s.totalRuns,
		"total_pruned":     s.totalPruned,
	}
}
