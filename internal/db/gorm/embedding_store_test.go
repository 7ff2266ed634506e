package gorm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/codeaudit/pkg/models"
)

func TestInsertEmbeddingIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embeddings := NewEmbeddingStore(store, testConfig())

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	e := NewEmbedding{
		ProjectID:   project.ID,
		SourceKind:  models.SourceFunction,
		SourcePath:  "store.go:ListProjects",
		Model:       "test-model",
		ContentHash: models.HashContent("func ListProjects() {}"),
		Vector:      []float32{0.1, 0.2, 0.3},
	}

	first, created, err := embeddings.InsertEmbedding(ctx, owner, e)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.IndexPending, first.IndexState)

	// Re-insert returns the same row and reports nothing new to index.
	second, created, err := embeddings.InsertEmbedding(ctx, owner, e)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, store.DB.Model(&Embedding{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInsertEmbeddingRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embeddings := NewEmbeddingStore(store, testConfig())

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	base := NewEmbedding{
		ProjectID:   project.ID,
		SourceKind:  models.SourceFile,
		SourcePath:  "main.go",
		Model:       "test-model",
		ContentHash: models.HashContent("x"),
		Vector:      []float32{1, 0, 0},
	}

	wrongDims := base
	wrongDims.Vector = []float32{1, 0}
	_, _, err := embeddings.InsertEmbedding(ctx, owner, wrongDims)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	unknownModel := base
	unknownModel.Model = "made-up"
	_, _, err = embeddings.InsertEmbedding(ctx, owner, unknownModel)
	assert.ErrorIs(t, err, models.ErrConstraintViolation)

	badKind := base
	badKind.SourceKind = models.SourceKind("blob")
	_, _, err = embeddings.InsertEmbedding(ctx, owner, badKind)
	assert.ErrorIs(t, err, models.ErrConstraintViolation)

	// An invisible project is a silent not-found.
	stranger := mustActor(t, store, "stranger", models.RoleContributor)
	_, _, err = embeddings.InsertEmbedding(ctx, stranger, base)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimPendingAndMark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embeddings := NewEmbeddingStore(store, testConfig())

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	var ids []int64
	for _, content := range []string{"a", "b", "c"} {
		e, _, err := embeddings.InsertEmbedding(ctx, owner, NewEmbedding{
			ProjectID:   project.ID,
			SourceKind:  models.SourceFile,
			SourcePath:  content + ".go",
			Model:       "test-model",
			ContentHash: models.HashContent(content),
			Vector:      []float32{1, 0, 0},
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	pending, err := embeddings.ClaimPending(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	require.NoError(t, embeddings.MarkIndexed(ctx, ids[:2]))
	require.NoError(t, embeddings.MarkFailed(ctx, ids[2], errors.New("index full")))

	// A plain pass sees nothing; a retry pass claims the failed row.
	pending, err = embeddings.ClaimPending(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	retry, err := embeddings.ClaimPending(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, ids[2], retry[0].ID)

	corpora, err := embeddings.IndexedCorpora(ctx)
	require.NoError(t, err)
	require.Len(t, corpora, 1)
	assert.Equal(t, Corpus{ProjectID: project.ID, Model: "test-model"}, corpora[0])
}

func TestGetEmbeddingsByIDsPreservesOrderAndScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embeddings := NewEmbeddingStore(store, testConfig())

	owner := mustActor(t, store, "owner", models.RoleContributor)
	stranger := mustActor(t, store, "stranger", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	var ids []int64
	for _, content := range []string{"a", "b"} {
		e, _, err := embeddings.InsertEmbedding(ctx, owner, NewEmbedding{
			ProjectID:   project.ID,
			SourceKind:  models.SourceFile,
			SourcePath:  content + ".go",
			Model:       "test-model",
			ContentHash: models.HashContent(content),
			Vector:      []float32{1, 0, 0},
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	// Request in reverse; results come back in request order.
	got, err := embeddings.GetEmbeddingsByIDs(ctx, owner, []int64{ids[1], ids[0]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)
	assert.Equal(t, ids[0], got[1].ID)

	// The stranger sees none of them.
	got, err = embeddings.GetEmbeddingsByIDs(ctx, stranger, ids)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGranteeCannotInsertEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	embeddings := NewEmbeddingStore(store, testConfig())
	actors := NewActorStore(store)

	owner := mustActor(t, store, "owner", models.RoleContributor)
	grantee := mustActor(t, store, "grantee", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")
	require.NoError(t, actors.GrantAccess(ctx, owner, grantee.ID, project.ID))

	_, _, err := embeddings.InsertEmbedding(ctx, grantee, NewEmbedding{
		ProjectID:   project.ID,
		SourceKind:  models.SourceFile,
		SourcePath:  "main.go",
		Model:       "test-model",
		ContentHash: models.HashContent("package main"),
		Vector:      []float32{1, 0, 0},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
