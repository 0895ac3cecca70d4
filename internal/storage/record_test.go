package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

func TestRecord_PreservesResult(t *testing.T) {
	score := 85
	branch := "main"
	result := &domain.AuditResult{
		Repository: "acme/api",
		Status:     domain.AuditStatusDone,
		Score:      &score,
		Checks: []domain.CheckResult{
			{ID: domain.CheckDefaultBranch, Passed: true, Weight: 10, Credit: 1, Detail: "default branch is \"main\""},
		},
		Properties: domain.Properties{DefaultBranch: &branch},
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	rec, err := NewRecord("run-1", result)
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.Owner)
	assert.Equal(t, "api", rec.Repo)
	assert.True(t, rec.Score.Valid)
	assert.False(t, rec.ErrorCode.Valid)

	stored, err := rec.StoredResult()
	require.NoError(t, err)
	assert.Equal(t, "run-1", stored.RunID)

	want, _ := json.Marshal(result)
	got, _ := json.Marshal(stored.Result)
	assert.JSONEq(t, string(want), string(got))
}

func TestRecord_FailedResultHasNoScore(t *testing.T) {
	result := &domain.AuditResult{
		Repository: "acme/broken",
		Status:     domain.AuditStatusFailed,
		Error:      &domain.AuditError{Code: "API_ERROR", Message: "Not Found"},
		Timestamp:  time.Now(),
	}
	rec, err := NewRecord("run-1", result)
	require.NoError(t, err)
	assert.False(t, rec.Score.Valid)

	stored, err := rec.StoredResult()
	require.NoError(t, err)
	assert.Nil(t, stored.Result.Score)
	require.NotNil(t, stored.Result.Error)
	assert.Equal(t, "API_ERROR", stored.Result.Error.Code)
}

func TestSplitFullName(t *testing.T) {
	owner, repo, err := SplitFullName("acme/api")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "api", repo)

	for _, bad := range []string{"api", "/api", "acme/", ""} {
		_, _, err := SplitFullName(bad)
		assert.Error(t, err, bad)
	}
}
