package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB, pg bool) error {
	migrations := []*gormigrate.Migration{
		// Migration 001: identity tables
		{
			ID: "001_identity",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Actor{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&AccessGrant{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("access_grants", "actors")
			},
		},

		// Migration 002: raw tables (system of record)
		{
			ID: "002_raw_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Project{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Analysis{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Violation{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("violations", "analyses", "projects")
			},
		},

		// Migration 003: embeddings. The vector column type comes from the
		// pgvector extension on PostgreSQL; sqlite stores the same textual
		// representation and search goes through the in-memory index.
		{
			ID: "003_embeddings",
			Migrate: func(tx *gorm.DB) error {
				if pg {
					if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
						return err
					}
				}
				return tx.AutoMigrate(&Embedding{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("embeddings")
			},
		},

		// Migration 004: audit events
		{
			ID: "004_audit_events",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AuditEvent{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("audit_events")
			},
		},

		// Migration 005: rollup tables. Fully derived; dropping and
		// re-running the refresh rebuilds them from raw tables.
		{
			ID: "005_rollups",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&RollupGeneration{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&DailyComplianceRollup{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&WeeklyPerformanceRollup{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&ProjectQualityRollup{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ProjectSimilarityRollup{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"project_similarity_rollups",
					"project_quality_rollups",
					"weekly_performance_rollups",
					"daily_compliance_rollups",
					"rollup_generations",
				)
			},
		},
	}

	return gormigrate.New(db, gormigrate.DefaultOptions, migrations).Migrate()
}
