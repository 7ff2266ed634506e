package worker

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/codeaudit/internal/config"
	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/internal/maintenance"
	"github.com/thebtf/codeaudit/internal/rollup"
	"github.com/thebtf/codeaudit/internal/search"
	"github.com/thebtf/codeaudit/internal/vector"
	"github.com/thebtf/codeaudit/internal/vector/memory"
)

func newTestServer(t *testing.T) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.EmbeddingModels = map[string]int{"test-model": 3}
	cfg.MaintenanceBudgetMinutes = 1

	store, err := gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(t.TempDir(), "worker_test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audits := gormdb.NewAuditStore(store)
	projects := gormdb.NewProjectStore(store, audits)
	analyses := gormdb.NewAnalysisStore(store, audits)
	violations := gormdb.NewViolationStore(store, audits)
	embeddings := gormdb.NewEmbeddingStore(store, cfg)

	index := memory.NewIndex()
	builder := vector.NewBuilder(embeddings, index)
	t.Cleanup(builder.Close)

	refresher := rollup.NewRefresher(store, cfg, zerolog.Nop())
	maint := maintenance.NewService(store, audits, analyses, violations, refresher, builder, cfg, zerolog.Nop())

	return NewService("test", cfg, Deps{
		Store:       store,
		Actors:      gormdb.NewActorStore(store),
		Audits:      audits,
		Projects:    projects,
		Analyses:    analyses,
		Violations:  violations,
		Embeddings:  embeddings,
		Stats:       gormdb.NewStatsStore(store),
		Searcher:    search.NewService(projects, embeddings, index, cfg, zerolog.Nop()),
		Builder:     builder,
		Maintenance: maint,
	})
}

func doJSON(t *testing.T, svc *Service, method, path, actorID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actorID != "" {
		req.Header.Set(ActorHeader, actorID)
	}
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func createActor(t *testing.T, svc *Service, name, role string) string {
	t.Helper()
	rec := doJSON(t, svc, http.MethodPost, "/api/actors", "", map[string]string{
		"name": name, "role": role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var actor struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actor))
	require.NotEmpty(t, actor.ID)
	return actor.ID
}

func createProject(t *testing.T, svc *Service, actorID, name string) string {
	t.Helper()
	rec := doJSON(t, svc, http.MethodPost, "/api/projects", actorID, map[string]interface{}{
		"name": name, "tech_stack": []string{"go"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var project struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	return project.ID
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestServer(t)

	rec := doJSON(t, svc, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp["version"])
}

func TestMissingActorHeaderIsRejected(t *testing.T) {
	svc := newTestServer(t)

	rec := doJSON(t, svc, http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, svc, http.MethodGet, "/api/projects", "no-such-actor", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectVisibilityAcrossActors(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	other := createActor(t, svc, "other", "contributor")
	projectID := createProject(t, svc, owner, "api-server")

	rec := doJSON(t, svc, http.MethodGet, "/api/projects/"+projectID, owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A stranger gets the same 404 a missing project would produce.
	rec = doJSON(t, svc, http.MethodGet, "/api/projects/"+projectID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, svc, http.MethodGet, "/api/projects/does-not-exist", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A grant makes it visible.
	rec = doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/grants", owner, map[string]string{
		"actor_id": other,
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, svc, http.MethodGet, "/api/projects/"+projectID, other, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalysisLifecycleOverHTTP(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	projectID := createProject(t, svc, owner, "api-server")

	rec := doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/analyses", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var analysis struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	base := "/api/analyses/" + strconv.FormatInt(analysis.ID, 10)

	// Completing a pending run skips in_progress and is rejected.
	rec = doJSON(t, svc, http.MethodPost, base+"/complete", owner, map[string]int64{
		"compliance_score": 80, "quality_score": 80, "security_score": 80, "performance_score": 80,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, base+"/start", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, svc, http.MethodPost, base+"/complete", owner, map[string]int64{
		"compliance_score": 85, "quality_score": 80, "security_score": 90, "performance_score": 75,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateViolationRejectsUnknownSeverity(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	projectID := createProject(t, svc, owner, "api-server")

	rec := doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/violations", owner, map[string]string{
		"rule": "no-secrets", "severity": "catastrophic", "message": "hardcoded key",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "domain", resp.Kind)
}

func TestSimilaritySearchValidation(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	projectID := createProject(t, svc, owner, "api-server")

	// Wrong vector length for the model.
	rec := doJSON(t, svc, http.MethodPost, "/api/similarity/search", owner, map[string]interface{}{
		"project_id": projectID, "model": "test-model", "vector": []float32{1, 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty corpus is a valid empty result, not an error.
	rec = doJSON(t, svc, http.MethodPost, "/api/similarity/search", owner, map[string]interface{}{
		"project_id": projectID, "model": "test-model", "vector": []float32{1, 0, 0},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestMaintenanceRunEndpoint(t *testing.T) {
	svc := newTestServer(t)
	admin := createActor(t, svc, "ops", "admin")

	rec := doJSON(t, svc, http.MethodPost, "/api/maintenance/run", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "succeeded", resp["outcome"])

	rec = doJSON(t, svc, http.MethodGet, "/api/maintenance/status", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewerCannotCreateProject(t *testing.T) {
	svc := newTestServer(t)
	viewer := createActor(t, svc, "viewer", "viewer")

	rec := doJSON(t, svc, http.MethodPost, "/api/projects", viewer, map[string]string{
		"name": "forbidden",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProjectLineCount(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	projectID := createProject(t, svc, owner, "counted")

	rec := doJSON(t, svc, http.MethodPatch, "/api/projects/"+projectID+"/lines", owner, map[string]int64{
		"total_lines": 4200,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, svc, http.MethodGet, "/api/projects/"+projectID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var project struct {
		TotalLines int64 `json:"total_lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	assert.Equal(t, int64(4200), project.TotalLines)

	rec = doJSON(t, svc, http.MethodPatch, "/api/projects/"+projectID+"/lines", owner, map[string]int64{
		"total_lines": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListViolationsForAnalysis(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	stranger := createActor(t, svc, "stranger", "contributor")
	projectID := createProject(t, svc, owner, "audited")

	rec := doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/analyses", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var analysis struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))

	rec = doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/violations", owner, map[string]interface{}{
		"analysis_id": analysis.ID, "rule": "no-panic", "severity": "high", "message": "panic in handler",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := "/api/analyses/" + strconv.FormatInt(analysis.ID, 10) + "/violations"
	rec = doJSON(t, svc, http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []struct {
		Rule string `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "no-panic", listed[0].Rule)

	// Another tenant sees an empty list, not an error.
	rec = doJSON(t, svc, http.MethodGet, path, stranger, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestGetEmbeddingByID(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	stranger := createActor(t, svc, "stranger", "contributor")
	projectID := createProject(t, svc, owner, "embedded")

	rec := doJSON(t, svc, http.MethodPost, "/api/projects/"+projectID+"/embeddings", owner, map[string]interface{}{
		"source_kind": "file", "source_path": "main.go", "model": "test-model",
		"content": "package main", "vector": []float32{1, 0, 0},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var embedding struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &embedding))

	path := "/api/embeddings/" + strconv.FormatInt(embedding.ID, 10)
	rec = doJSON(t, svc, http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, svc, http.MethodGet, path, stranger, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListGrantsOnProject(t *testing.T) {
	svc := newTestServer(t)
	owner := createActor(t, svc, "owner", "contributor")
	grantee := createActor(t, svc, "grantee", "contributor")
	projectID := createProject(t, svc, owner, "shared")

	path := "/api/projects/" + projectID + "/grants"

	rec := doJSON(t, svc, http.MethodPost, path, owner, map[string]string{"actor_id": grantee})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, svc, http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Grants []struct {
			ActorID    string `json:"actor_id"`
			ResourceID string `json:"resource_id"`
		} `json:"grants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Grants, 1)
	assert.Equal(t, grantee, resp.Grants[0].ActorID)
	assert.Equal(t, projectID, resp.Grants[0].ResourceID)

	// Grantees can read the project, but the grant list stays owner-only.
	rec = doJSON(t, svc, http.MethodGet, path, grantee, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
