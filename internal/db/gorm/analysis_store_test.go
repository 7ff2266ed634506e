package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/codeaudit/pkg/models"
)

func TestAnalysisTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	audits := NewAuditStore(store)
	analyses := NewAnalysisStore(store, audits)

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisPending, analysis.Status)

	// Completing a pending run skips in_progress.
	err = analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{80, 80, 80, 80})
	require.ErrorIs(t, err, models.ErrConstraintViolation)

	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))

	got, err := analyses.GetAnalysis(ctx, owner, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisInProgress, got.Status)
	assert.True(t, got.StartedAt.Valid)

	require.NoError(t, analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{85, 80, 90, 75}))

	got, err = analyses.GetAnalysis(ctx, owner, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisCompleted, got.Status)
	assert.Equal(t, int64(85), got.ComplianceScore.Int64)
	assert.True(t, got.CompletedAt.Valid)
	assert.True(t, got.DurationMillis.Valid)
}

func TestTerminalAnalysisIsImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analyses := NewAnalysisStore(store, NewAuditStore(store))

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))
	require.NoError(t, analyses.FailAnalysis(ctx, owner, analysis.ID))

	// Every further transition is a domain violation.
	assert.ErrorIs(t, analyses.StartAnalysis(ctx, owner, analysis.ID), models.ErrConstraintViolation)
	assert.ErrorIs(t, analyses.CancelAnalysis(ctx, owner, analysis.ID), models.ErrConstraintViolation)
	assert.ErrorIs(t, analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{80, 80, 80, 80}), models.ErrConstraintViolation)
}

func TestCompleteAnalysisValidatesScores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analyses := NewAnalysisStore(store, NewAuditStore(store))

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))

	err = analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{101, 80, 80, 80})
	require.ErrorIs(t, err, models.ErrConstraintViolation)
	err = analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{80, -1, 80, 80})
	require.ErrorIs(t, err, models.ErrConstraintViolation)
}

func TestCompleteAnalysisRecountsViolations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	audits := NewAuditStore(store)
	analyses := NewAnalysisStore(store, audits)
	violations := NewViolationStore(store, audits)

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))

	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityLow, models.SeverityLow} {
		_, err := violations.CreateViolation(ctx, owner, NewViolation{
			ProjectID:  project.ID,
			AnalysisID: &analysis.ID,
			Rule:       "r",
			Severity:   sev,
			Message:    "m",
		})
		require.NoError(t, err)
	}

	require.NoError(t, analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{80, 80, 80, 80}))

	got, err := analyses.GetAnalysis(ctx, owner, analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalViolations)
	assert.Equal(t, 1, got.CriticalViolations)
}

func TestAnalysisAccessIsDerivedFromProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analyses := NewAnalysisStore(store, NewAuditStore(store))

	owner := mustActor(t, store, "owner", models.RoleContributor)
	stranger := mustActor(t, store, "stranger", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)

	_, err = analyses.GetAnalysis(ctx, stranger, analysis.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, analyses.StartAnalysis(ctx, stranger, analysis.ID), models.ErrNotFound)

	// Creating a run against an invisible project is silent too.
	_, err = analyses.CreateAnalysis(ctx, stranger, project.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPruneTerminalKeepsCompletedRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	analyses := NewAnalysisStore(store, NewAuditStore(store))

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	completed, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	require.NoError(t, analyses.StartAnalysis(ctx, owner, completed.ID))
	require.NoError(t, analyses.CompleteAnalysis(ctx, owner, completed.ID, AnalysisScores{80, 80, 80, 80}))

	failed, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)
	require.NoError(t, analyses.StartAnalysis(ctx, owner, failed.ID))
	require.NoError(t, analyses.FailAnalysis(ctx, owner, failed.ID))

	pruned, err := analyses.PruneTerminalOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = analyses.GetAnalysis(ctx, owner, completed.ID)
	assert.NoError(t, err)
	_, err = analyses.GetAnalysis(ctx, owner, failed.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransitionsRecordAuditEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	audits := NewAuditStore(store)
	analyses := NewAnalysisStore(store, audits)

	owner := mustActor(t, store, "owner", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)

	epoch := time.Time{}
	before, err := audits.CountSince(ctx, epoch)
	require.NoError(t, err)

	// Each transition commits its audit row in the same transaction and
	// returns; the audit write must not open a second connection.
	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))
	require.NoError(t, analyses.CompleteAnalysis(ctx, owner, analysis.ID, AnalysisScores{90, 90, 90, 90}))

	after, err := audits.CountSince(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	// A rejected transition rolls back, audit row included.
	err = analyses.StartAnalysis(ctx, owner, analysis.ID)
	require.ErrorIs(t, err, models.ErrConstraintViolation)

	unchanged, err := audits.CountSince(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, after, unchanged)
}

func TestGranteeCannotWriteAnalyses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	audits := NewAuditStore(store)
	analyses := NewAnalysisStore(store, audits)
	actors := NewActorStore(store)

	owner := mustActor(t, store, "owner", models.RoleContributor)
	grantee := mustActor(t, store, "grantee", models.RoleContributor)
	project := mustProject(t, store, owner, "api-server")
	require.NoError(t, actors.GrantAccess(ctx, owner, grantee.ID, project.ID))

	analysis, err := analyses.CreateAnalysis(ctx, owner, project.ID)
	require.NoError(t, err)

	// The grant covers reads only.
	_, err = analyses.GetAnalysis(ctx, grantee, analysis.ID)
	require.NoError(t, err)

	_, err = analyses.CreateAnalysis(ctx, grantee, project.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = analyses.StartAnalysis(ctx, grantee, analysis.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The owner's transition still goes through afterwards.
	require.NoError(t, analyses.StartAnalysis(ctx, owner, analysis.ID))
}
