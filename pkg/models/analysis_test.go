package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisStatus_Valid(t *testing.T) {
	for _, s := range []AnalysisStatus{
		AnalysisPending, AnalysisInProgress, AnalysisCompleted, AnalysisFailed, AnalysisCancelled,
	} {
		assert.True(t, s.Valid(), "expected %q to be valid", s)
	}
	assert.False(t, AnalysisStatus("done").Valid())
	assert.False(t, AnalysisStatus("").Valid())
}

func TestAnalysisStatus_Terminal(t *testing.T) {
	assert.False(t, AnalysisPending.Terminal())
	assert.False(t, AnalysisInProgress.Terminal())
	assert.True(t, AnalysisCompleted.Terminal())
	assert.True(t, AnalysisFailed.Terminal())
	assert.True(t, AnalysisCancelled.Terminal())
}

func TestAnalysisStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    AnalysisStatus
		to      AnalysisStatus
		allowed bool
	}{
		{AnalysisPending, AnalysisInProgress, true},
		{AnalysisPending, AnalysisCancelled, true},
		{AnalysisPending, AnalysisCompleted, false},
		{AnalysisInProgress, AnalysisCompleted, true},
		{AnalysisInProgress, AnalysisFailed, true},
		{AnalysisInProgress, AnalysisCancelled, true},
		{AnalysisInProgress, AnalysisPending, false},
		{AnalysisCompleted, AnalysisInProgress, false},
		{AnalysisFailed, AnalysisPending, false},
		{AnalysisCancelled, AnalysisInProgress, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestValidScore(t *testing.T) {
	assert.True(t, ValidScore(0))
	assert.True(t, ValidScore(100))
	assert.False(t, ValidScore(-1))
	assert.False(t, ValidScore(101))
}
