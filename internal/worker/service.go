// Package worker provides the HTTP query surface for codeaudit.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/codeaudit/internal/config"
	"github.com/thebtf/codeaudit/internal/db"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/internal/maintenance"
	"github.com/thebtf/codeaudit/internal/search"
	"github.com/thebtf/codeaudit/internal/vector"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps request body size. Embedding inserts carry vectors
	// of at most a few thousand float32s; 4 MB is generous.
	MaxRequestBody = 4 << 20
)

// Service hosts the HTTP surface over the store, the search service and the
// maintenance scheduler.
type Service struct {
	version string
	config  *config.Config

	store       *gormdb.Store
	actors      *gormdb.ActorStore
	audits      *gormdb.AuditStore
	projects    db.ProjectStore
	analyses    *gormdb.AnalysisStore
	violations  *gormdb.ViolationStore
	embeddings  *gormdb.EmbeddingStore
	stats       *gormdb.StatsStore
	searcher    *search.Service
	builder     *vector.Builder
	maintenance *maintenance.Service

	router    *chi.Mux
	server    *http.Server
	startTime time.Time
}

// Deps carries the wired components the service exposes.
type Deps struct {
	Store       *gormdb.Store
	Actors      *gormdb.ActorStore
	Audits      *gormdb.AuditStore
	Projects    db.ProjectStore
	Analyses    *gormdb.AnalysisStore
	Violations  *gormdb.ViolationStore
	Embeddings  *gormdb.EmbeddingStore
	Stats       *gormdb.StatsStore
	Searcher    *search.Service
	Builder     *vector.Builder
	Maintenance *maintenance.Service
}

// NewService creates the HTTP service and registers its routes.
func NewService(version string, cfg *config.Config, deps Deps) *Service {
	svc := &Service{
		version:     version,
		config:      cfg,
		store:       deps.Store,
		actors:      deps.Actors,
		audits:      deps.Audits,
		projects:    deps.Projects,
		analyses:    deps.Analyses,
		violations:  deps.Violations,
		embeddings:  deps.Embeddings,
		stats:       deps.Stats,
		searcher:    deps.Searcher,
		builder:     deps.Builder,
		maintenance: deps.Maintenance,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(LogRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)

	// Actor registration carries no caller identity yet.
	s.router.Post("/api/actors", s.handleCreateActor)

	// Everything below acts on behalf of the actor in X-Actor-ID.
	s.router.Group(func(r chi.Router) {
		r.Use(s.requireActor)

		r.Post("/api/projects", s.handleCreateProject)
		r.Get("/api/projects", s.handleListProjects)
		r.Get("/api/projects/{id}", s.handleGetProject)
		r.Patch("/api/projects/{id}/status", s.handleUpdateProjectStatus)
		r.Patch("/api/projects/{id}/lines", s.handleUpdateLineCount)
		r.Delete("/api/projects/{id}", s.handleDeleteProject)
		r.Post("/api/projects/{id}/grants", s.handleGrantAccess)
		r.Get("/api/projects/{id}/grants", s.handleListGrants)
		r.Delete("/api/projects/{id}/grants/{actorId}", s.handleRevokeAccess)

		r.Post("/api/projects/{id}/analyses", s.handleCreateAnalysis)
		r.Get("/api/projects/{id}/analyses", s.handleListAnalyses)
		r.Get("/api/analyses/{id}", s.handleGetAnalysis)
		r.Post("/api/analyses/{id}/start", s.handleStartAnalysis)
		r.Post("/api/analyses/{id}/complete", s.handleCompleteAnalysis)
		r.Post("/api/analyses/{id}/fail", s.handleFailAnalysis)
		r.Post("/api/analyses/{id}/cancel", s.handleCancelAnalysis)
		r.Get("/api/analyses/{id}/violations", s.handleListAnalysisViolations)

		r.Post("/api/projects/{id}/violations", s.handleCreateViolation)
		r.Get("/api/projects/{id}/violations", s.handleListViolations)
		r.Patch("/api/violations/{id}/status", s.handleUpdateViolationStatus)

		r.Post("/api/projects/{id}/embeddings", s.handleInsertEmbedding)
		r.Get("/api/embeddings/{id}", s.handleGetEmbedding)
		r.Post("/api/similarity/search", s.handleSimilaritySearch)

		r.Get("/api/projects/{id}/statistics", s.handleProjectStatistics)
		r.Get("/api/projects/{id}/compliance-trend", s.handleComplianceTrend)
		r.Get("/api/projects/{id}/performance-trend", s.handlePerformanceTrend)
		r.Get("/api/projects/{id}/quality", s.handleQualityOverview)

		r.Post("/api/maintenance/run", s.handleMaintenanceRun)
		r.Get("/api/maintenance/status", s.handleMaintenanceStatus)
	})
}

// Router returns the configured router. Exposed for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.ListenPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Int("port", s.config.ListenPort).Msg("HTTP server started")
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
