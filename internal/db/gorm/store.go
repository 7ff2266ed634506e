// Package gorm provides GORM-based database operations for codeaudit.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store represents the database connection. PostgreSQL is the production
// backend; sqlite backs local deployments and tests.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
	pg    bool
}

// Config holds database configuration.
type Config struct {
	DSN      string          // PostgreSQL DSN; takes precedence over Path
	Path     string          // sqlite file path, used when DSN is empty
	MaxConns int             // Maximum number of open connections (default: 10)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	pg := cfg.DSN != ""
	if pg {
		dialector = postgres.Open(cfg.DSN)
	} else {
		// Referential integrity is part of the storage contract; sqlite
		// leaves it off unless asked.
		dialector = sqlite.Open(cfg.Path + "?_foreign_keys=1")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if !pg {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{DB: db, sqlDB: sqlDB, pg: pg}

	if err := runMigrations(db, pg); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *Store) IsPostgres() bool { return s.pg }

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}

// GetRawDB returns the underlying *sql.DB for operations GORM can't express,
// such as pgvector distance queries.
func (s *Store) GetRawDB() *sql.DB {
	return s.sqlDB
}

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Optimize recomputes planner statistics. Called by the maintenance cycle.
func (s *Store) Optimize(ctx context.Context) error {
	start := time.Now()

	if _, err := s.sqlDB.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	log.Debug().Dur("duration", time.Since(start)).Msg("Planner statistics recomputed")
	return nil
}

// QueryTimeout constants for different query types.
const (
	// DefaultQueryTimeout is the default timeout for regular queries.
	DefaultQueryTimeout = 5 * time.Second
	// SlowQueryTimeout is for queries that may take longer (rollup refresh,
	// retention sweeps).
	SlowQueryTimeout = 30 * time.Second
)

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	OpenConns    int           `json:"open_connections"`
	InUse        int           `json:"in_use"`
	QueryLatency time.Duration `json:"query_latency_ns"`
}

// HealthCheck measures a round trip and reports pool state.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	info := &HealthInfo{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	stats := s.sqlDB.Stats()
	info.OpenConns = stats.OpenConnections
	info.InUse = stats.InUse

	start := time.Now()
	var dummy int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&dummy)
	info.QueryLatency = time.Since(start)

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}

	if info.QueryLatency > 10*time.Millisecond {
		info.Status = "degraded"
	}

	return info
}

// WithTimeout wraps a context with the given timeout and logs slow queries.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()

	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()

		if elapsed > 100*time.Millisecond {
			log.Warn().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Dur("timeout", timeout).
				Msg("Slow database operation")
		}
	}
}

// Transaction runs fn inside a transaction with a timeout. The transaction is
// rolled back if the context expires.
func (s *Store) Transaction(ctx context.Context, timeout time.Duration, fn func(*gorm.DB) error) error {
	timeoutCtx, cancel := s.WithTimeout(ctx, timeout, "transaction")
	defer cancel()

	return s.DB.WithContext(timeoutCtx).Transaction(func(tx *gorm.DB) error {
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		default:
		}
		return fn(tx)
	})
}
