package gorm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/codeaudit/internal/config"
	"github.com/thebtf/codeaudit/pkg/models"
)

// testDims is the vector dimension of the test embedding model.
const testDims = 3

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "store_test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.EmbeddingModels = map[string]int{"test-model": testDims}
	return cfg
}

func mustActor(t *testing.T, store *Store, name string, role models.Role) models.Actor {
	t.Helper()
	actor, err := NewActorStore(store).CreateActor(context.Background(), name, role)
	require.NoError(t, err)
	return *actor
}

func mustProject(t *testing.T, store *Store, owner models.Actor, name string) *models.Project {
	t.Helper()
	projects := NewProjectStore(store, NewAuditStore(store))
	project, err := projects.CreateProject(context.Background(), owner, name, []string{"go"}, 1000)
	require.NoError(t, err)
	return project
}
