package aggregator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage/sqlite"
)

func result(repo string, status domain.AuditStatus, score *int, checks ...domain.CheckResult) *domain.AuditResult {
	return &domain.AuditResult{Repository: repo, Status: status, Score: score, Checks: checks, Timestamp: time.Now().UTC()}
}

func intPtr(v int) *int { return &v }

func TestSummarize(t *testing.T) {
	started := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	run := &domain.AuditRun{
		ID:           "run-1",
		Organization: "acme",
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
		Results: []*domain.AuditResult{
			result("acme/a", domain.AuditStatusDone, intPtr(95)),
			result("acme/b", domain.AuditStatusDone, intPtr(60)),
			result("acme/c", domain.AuditStatusDone, intPtr(70)),
			result("acme/d", domain.AuditStatusFailed, nil),
			result("acme/e", domain.AuditStatusTimedOut, nil),
		},
	}
	run.Emitted = run.Results[:1]

	s := NewAggregator(nil).Summarize(run)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 5, s.Requested)
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 1, s.Emitted)
	assert.Equal(t, 75.0, s.AverageScore)
	assert.Equal(t, 70.0, s.MedianScore)
}

func TestSummarize_NothingScored(t *testing.T) {
	run := &domain.AuditRun{ID: "run-2", Results: []*domain.AuditResult{result("acme/a", domain.AuditStatusFailed, nil)}}
	s := NewAggregator(nil).Summarize(run)
	assert.Equal(t, 0.0, s.AverageScore)
	assert.Equal(t, 0.0, s.MedianScore)
	assert.Equal(t, 1, s.Failed)
}

func TestGetOrgSummary(t *testing.T) {
	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "compliance.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	agg := NewAggregator(store)

	protected := domain.CheckResult{ID: domain.CheckBranchProtection, Passed: true, Weight: 20, Credit: 1}
	unprotected := domain.CheckResult{ID: domain.CheckBranchProtection, Passed: false, Weight: 20}
	require.NoError(t, store.SaveAuditResult(ctx, "run-1", result("acme/a", domain.AuditStatusDone, intPtr(90), protected)))
	require.NoError(t, store.SaveAuditResult(ctx, "run-1", result("acme/b", domain.AuditStatusDone, intPtr(50), unprotected)))
	require.NoError(t, store.SaveAuditResult(ctx, "run-1", result("acme/c", domain.AuditStatusFailed, nil)))
	require.NoError(t, store.SaveRun(ctx, &domain.RunSummary{RunID: "run-1", Organization: "acme", StartedAt: time.Now(), FinishedAt: time.Now()}))

	s, err := agg.GetOrgSummary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Repositories)
	assert.Equal(t, 2, s.Scored)
	assert.Equal(t, 1, s.Unscored)
	assert.Equal(t, 70.0, s.AverageScore)
	assert.Equal(t, 50.0, s.MinScore)
	assert.Equal(t, 90.0, s.MaxScore)
	assert.Equal(t, 0.5, s.CheckPassRate[domain.CheckBranchProtection])
	require.NotNil(t, s.LastRun)
	assert.Equal(t, "run-1", s.LastRun.RunID)

	filtered, err := agg.GetAuditResults(ctx, "acme", storage.ResultQuery{MinScore: intPtr(80)})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "acme/a", filtered[0].Result.Repository)
}

func TestGetOrgSummary_Empty(t *testing.T) {
	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "compliance.db"))
	require.NoError(t, err)
	defer store.Close()

	s, err := NewAggregator(store).GetOrgSummary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, s.Repositories)
	assert.Nil(t, s.LastRun)
	assert.Empty(t, s.CheckPassRate)
}
