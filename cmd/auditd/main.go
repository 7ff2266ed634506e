// Package main provides the entry point for the auditd service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/codeaudit/internal/config"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/internal/maintenance"
	"github.com/thebtf/codeaudit/internal/rollup"
	"github.com/thebtf/codeaudit/internal/search"
	"github.com/thebtf/codeaudit/internal/vector"
	"github.com/thebtf/codeaudit/internal/vector/memory"
	"github.com/thebtf/codeaudit/internal/vector/pgvector"
	"github.com/thebtf/codeaudit/internal/worker"
)

var Version = "dev"

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Msg("Starting codeaudit auditd")

	cfg := config.Get()

	if cfg.DSN == "" {
		if err := config.EnsureDataDir(); err != nil {
			log.Fatal().Err(err).Msg("Failed to create data directory")
		}
	}

	store, err := gormdb.NewStore(gormdb.Config{
		DSN:      cfg.DSN,
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	audits := gormdb.NewAuditStore(store)
	actors := gormdb.NewActorStore(store)
	projects := gormdb.NewProjectStore(store, audits)
	analyses := gormdb.NewAnalysisStore(store, audits)
	violations := gormdb.NewViolationStore(store, audits)
	embeddings := gormdb.NewEmbeddingStore(store, cfg)
	stats := gormdb.NewStatsStore(store)

	// The pgvector index ranks inside the database; the in-memory index
	// serves sqlite deployments.
	var index vector.Index
	if store.IsPostgres() {
		pgIndex, err := pgvector.NewIndex(store.GetDB())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create pgvector index")
		}
		index = pgIndex
	} else {
		index = memory.NewIndex()
	}

	builder := vector.NewBuilder(embeddings, index)

	// An in-memory index starts empty; reload it from the indexed rows.
	if !store.IsPostgres() {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		corpora, err := embeddings.IndexedCorpora(warmCtx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list indexed corpora")
		}
		for _, c := range corpora {
			if err := builder.RebuildProject(warmCtx, embeddings, c.ProjectID, c.Model); err != nil {
				log.Fatal().Err(err).Str("project", c.ProjectID).Str("model", c.Model).Msg("Failed to rebuild index")
			}
		}
		warmCancel()
	}

	builder.Notify() // pick up rows left pending by a previous run

	searcher := search.NewService(projects, embeddings, index, cfg, log.Logger)
	refresher := rollup.NewRefresher(store, cfg, log.Logger)
	maint := maintenance.NewService(store, audits, analyses, violations, refresher, builder, cfg, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go maint.Start(ctx)

	svc := worker.NewService(Version, cfg, worker.Deps{
		Store:       store,
		Actors:      actors,
		Audits:      audits,
		Projects:    projects,
		Analyses:    analyses,
		Violations:  violations,
		Embeddings:  embeddings,
		Stats:       stats,
		Searcher:    searcher,
		Builder:     builder,
		Maintenance: maint,
	})

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	cancel()
	maint.Stop()
	maint.Wait()
	builder.Close()

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}

	log.Info().Msg("auditd shutdown complete")
}
