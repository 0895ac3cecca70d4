package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitConfigError, exitCode(fmt.Errorf("invalid audit policy: %w", apperrors.NewConfigError("workers", "must be positive"))))
	assert.Equal(t, exitAuthError, exitCode(apperrors.NewAuthError("bad credentials", nil)))
	assert.Equal(t, exitFailure, exitCode(fmt.Errorf("list repositories: boom")))
}

func newAuditFlags(t *testing.T, args ...string) (*auditOptions, *cobra.Command) {
	t.Helper()
	opts := &auditOptions{}
	cmd := &cobra.Command{Use: "audit"}
	f := cmd.Flags()
	f.IntVar(&opts.workers, "workers", 0, "")
	f.StringSliceVar(&opts.includeProperties, "include-properties", nil, "")
	f.StringSliceVar(&opts.excludeProperties, "exclude-properties", nil, "")
	f.IntVar(&opts.minScore, "min-score", 0, "")
	f.IntVar(&opts.maxScore, "max-score", 100, "")
	f.IntVar(&opts.windowDays, "contributor-window-days", 0, "")
	f.IntVar(&opts.primaryWindowDays, "primary-contributor-window-days", 0, "")
	f.DurationVar(&opts.timeout, "timeout", 0, "")
	require.NoError(t, f.Parse(args))
	return opts, cmd
}

func TestAuditOptions_OnlyChangedFlagsOverride(t *testing.T) {
	opts, cmd := newAuditFlags(t,
		"--workers=8",
		"--exclude-properties=contributors_count,primary_contributor",
		"--min-score=80",
		"--contributor-window-days=180",
		"--timeout=5m",
	)
	cfg := config.DefaultAuditConfig()
	opts.apply(cmd.Flags(), cfg)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []string{domain.PropertyContributorsCount, domain.PropertyPrimaryContributor}, cfg.PropertyFilter.Exclude)
	assert.Nil(t, cfg.PropertyFilter.Include)
	require.NotNil(t, cfg.ScoreFilter.Min)
	assert.Equal(t, 80, *cfg.ScoreFilter.Min)
	assert.Nil(t, cfg.ScoreFilter.Max)
	assert.Equal(t, 180, cfg.ContributorWindowDays)
	assert.Equal(t, 90, cfg.PrimaryContributorWindowDays)
	assert.Equal(t, 5*time.Minute, cfg.RepoTimeout)
}

func TestAuditOptions_NoFlagsKeepsPolicy(t *testing.T) {
	opts, cmd := newAuditFlags(t)
	cfg := config.DefaultAuditConfig()
	opts.apply(cmd.Flags(), cfg)
	assert.Equal(t, config.DefaultAuditConfig(), cfg)
}

func TestWriteReport(t *testing.T) {
	score := 95
	report := &domain.Report{
		RunID:        "run-1",
		Organization: "acme",
		ReposAudited: 2,
		Results:      []*domain.AuditResult{{Repository: "acme/api", Status: domain.AuditStatusDone, Score: &score}},
	}
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeReport(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"repos_audited": 2`)
	assert.Contains(t, string(data), `"score": 95`)
}
