package checker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func ago(days int) *time.Time {
	t := testNow.Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

func newTestChecker(t *testing.T, mutate ...func(cfg *config.AuditConfig)) *Checker {
	t.Helper()
	cfg := config.DefaultAuditConfig()
	cfg.Organization = "acme"
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())
	c, err := New(cfg)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }
	return c
}

const tagReleaseWorkflow = `
name: Release
on:
  push:
    tags: ['v*']
jobs:
  publish:
    runs-on: ubuntu-latest
    environment: production
`

func compliantSnapshot() *domain.RepositorySnapshot {
	return &domain.RepositorySnapshot{
		Owner:         "acme",
		Name:          "api",
		FullName:      "acme/api",
		DefaultBranch: "main",
		Languages:     map[string]int{"Go": 5000, "Makefile": 100},
		BranchProtection: &domain.BranchProtection{
			RequiresPullRequest:  true,
			RequiredReviews:      1,
			RequiredStatusChecks: []string{"ci"},
		},
		FilesPresent: map[string]bool{"LICENSE": true, "SECURITY.md": true, "CONTRIBUTING.md": true, "CODEOWNERS": true},
		Branches: []domain.Branch{
			{Name: "main", LastCommitAt: ago(2)},
			{Name: "feature/login", LastCommitAt: ago(10)},
		},
		Contributors: []string{"alice", "bob"},
		Workflows: []domain.Workflow{
			{Name: "Release", Path: ".github/workflows/release.yml", Content: tagReleaseWorkflow},
		},
	}
}

func checkByID(t *testing.T, res *domain.AuditResult, id string) domain.CheckResult {
	t.Helper()
	for _, c := range res.Checks {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("check %s missing", id)
	return domain.CheckResult{}
}

func TestEvaluate_FullyCompliant(t *testing.T) {
	c := newTestChecker(t)
	res := c.Evaluate(compliantSnapshot())

	require.NotNil(t, res.Score)
	assert.Equal(t, 100, *res.Score)
	assert.Equal(t, domain.AuditStatusDone, res.Status)
	assert.Len(t, res.Checks, len(domain.ScoredChecks))
	for _, check := range res.Checks {
		assert.True(t, check.Passed, check.ID+": "+check.Detail)
		assert.Greater(t, check.Weight, 0.0)
	}
	assert.Equal(t, *res.Score, domain.ComputeScore(res.Checks))
}

func TestEvaluate_EmptyRepositoryScoresLower(t *testing.T) {
	c := newTestChecker(t)
	empty := &domain.RepositorySnapshot{FullName: "acme/empty", DefaultBranch: "main", FilesPresent: map[string]bool{}}

	emptyRes := c.Evaluate(empty)
	fullRes := c.Evaluate(compliantSnapshot())

	assert.Less(t, *emptyRes.Score, *fullRes.Score)
	assert.Equal(t, 0.0, checkByID(t, emptyRes, domain.CheckStandardFiles).Credit)
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := newTestChecker(t)
	snap := compliantSnapshot()
	snap.Branches = append(snap.Branches, domain.Branch{Name: "wip", LastCommitAt: ago(400)})

	first := c.Evaluate(snap)
	for i := 0; i < 5; i++ {
		again := c.Evaluate(snap)
		assert.Equal(t, first.Checks, again.Checks)
		assert.Equal(t, *first.Score, *again.Score)
	}
}

func TestCheckBranchProtection(t *testing.T) {
	testCases := []struct {
		name         string
		contributors []string
		protection   *domain.BranchProtection
		passed       bool
	}{
		{name: "single contributor without protection", contributors: []string{"alice"}, passed: true},
		{name: "human plus bots counts as one", contributors: []string{"alice", "dependabot[bot]", "renovate-bot"}, passed: true},
		{name: "team without protection", contributors: []string{"alice", "bob"}, passed: false},
		{
			name:         "too few reviews",
			contributors: []string{"alice", "bob"},
			protection:   &domain.BranchProtection{RequiredReviews: 0, RequiredStatusChecks: []string{"ci"}},
			passed:       false,
		},
		{
			name:         "force pushes allowed",
			contributors: []string{"alice", "bob"},
			protection:   &domain.BranchProtection{RequiredReviews: 1, RequiredStatusChecks: []string{"ci"}, AllowsForcePushes: true},
			passed:       false,
		},
		{
			name:         "meets minimums",
			contributors: []string{"alice", "bob"},
			protection:   &domain.BranchProtection{RequiredReviews: 2, RequiredStatusChecks: []string{"ci"}},
			passed:       true,
		},
	}

	c := newTestChecker(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := compliantSnapshot()
			snap.Contributors = tc.contributors
			snap.BranchProtection = tc.protection
			res := checkBranchProtection(snap, c.cfg, c.bots)
			assert.Equal(t, tc.passed, res.Passed, res.Detail)
		})
	}
}

func TestCheckBranchProtection_IgnoresCommitWindow(t *testing.T) {
	c := newTestChecker(t)
	now := time.Now()

	withAuthors := compliantSnapshot()
	withAuthors.Contributors = []string{"alice", "bob"}
	withAuthors.BranchProtection = nil
	withAuthors.CommitAuthors = []domain.CommitAuthor{{Login: "alice", CommittedAt: now.AddDate(0, 0, -3)}}
	withAuthors.CommitsFetched = true

	withoutAuthors := compliantSnapshot()
	withoutAuthors.Contributors = []string{"alice", "bob"}
	withoutAuthors.BranchProtection = nil

	a := checkBranchProtection(withAuthors, c.cfg, c.bots)
	b := checkBranchProtection(withoutAuthors, c.cfg, c.bots)
	assert.False(t, a.Passed)
	assert.Equal(t, b, a)
}

func TestCheckBranchNaming(t *testing.T) {
	c := newTestChecker(t)
	snap := compliantSnapshot()
	snap.Branches = []domain.Branch{
		{Name: "main"},
		{Name: "staging"},
		{Name: "feature/a"},
		{Name: "hotfix/b"},
		{Name: "release/1.2"},
		{Name: "v2.0-maint"},
		{Name: "wip"},
	}

	res := checkBranchNaming(snap, c.cfg, config.Exception{})
	assert.False(t, res.Passed)
	assert.Equal(t, "non-compliant branches: release/1.2, v2.0-maint, wip", res.Detail)

	res = checkBranchNaming(snap, c.cfg, config.Exception{AllowReleaseBranches: true})
	assert.False(t, res.Passed)
	assert.Equal(t, "non-compliant branches: v2.0-maint, wip", res.Detail)
}

func TestCheckStandardFiles_PartialCredit(t *testing.T) {
	c := newTestChecker(t)
	snap := compliantSnapshot()
	snap.FilesPresent = map[string]bool{"LICENSE": true, "CODEOWNERS": true}

	res := checkStandardFiles(snap, c.cfg)
	assert.False(t, res.Passed)
	assert.InDelta(t, 0.5, res.Credit, 1e-9)
	assert.Contains(t, res.Detail, "missing: SECURITY.md, CONTRIBUTING.md")
}

func TestCheckCIPattern(t *testing.T) {
	testCases := []struct {
		name     string
		workflow domain.Workflow
		passed   bool
	}{
		{
			name:     "deploy on branch push",
			workflow: domain.Workflow{Name: "Deploy", Path: ".github/workflows/deploy.yml", Content: "on:\n  push:\n    branches: [main]\n"},
			passed:   false,
		},
		{
			name:     "deploy on tag push",
			workflow: domain.Workflow{Name: "Deploy", Path: ".github/workflows/deploy.yml", Content: "on:\n  push:\n    tags: ['v*']\n"},
			passed:   true,
		},
		{
			name:     "bare push scalar",
			workflow: domain.Workflow{Name: "Publish", Path: ".github/workflows/publish.yml", Content: "on: push\n"},
			passed:   false,
		},
		{
			name:     "push in list",
			workflow: domain.Workflow{Name: "Release", Path: ".github/workflows/r.yml", Content: "on: [push, pull_request]\n"},
			passed:   false,
		},
		{
			name:     "push with paths only",
			workflow: domain.Workflow{Name: "Release", Path: ".github/workflows/r.yml", Content: "on:\n  push:\n    paths: ['src/**']\n"},
			passed:   false,
		},
		{
			name: "environment marks a deploy",
			workflow: domain.Workflow{Name: "CD", Path: ".github/workflows/cd.yml", Content: `
on:
  push:
    branches: [main]
jobs:
  ship:
    runs-on: ubuntu-latest
    environment: production
`},
			passed: false,
		},
		{
			name:     "ci on branch push",
			workflow: domain.Workflow{Name: "CI", Path: ".github/workflows/ci.yml", Content: "on:\n  push:\n    branches: [main]\n  pull_request:\n"},
			passed:   true,
		},
		{
			name:     "manual deploy",
			workflow: domain.Workflow{Name: "Deploy", Path: ".github/workflows/deploy.yml", Content: "on: workflow_dispatch\n"},
			passed:   true,
		},
		{
			name:     "unparseable workflow",
			workflow: domain.Workflow{Name: "Deploy", Path: ".github/workflows/deploy.yml", Content: "on: [push\n"},
			passed:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := &domain.RepositorySnapshot{Workflows: []domain.Workflow{tc.workflow}}
			res := checkCIPattern(snap)
			assert.Equal(t, tc.passed, res.Passed, res.Detail)
		})
	}
}

func TestCheckStaleBranches(t *testing.T) {
	c := newTestChecker(t)
	snap := compliantSnapshot()
	snap.Branches = []domain.Branch{
		{Name: "main", LastCommitAt: ago(400)},
		{Name: "feature/old", LastCommitAt: ago(120)},
		{Name: "feature/new", LastCommitAt: ago(5)},
		{Name: "feature/unknown"},
	}

	res := checkStaleBranches(snap, c.cfg, testNow)
	assert.False(t, res.Passed)
	assert.InDelta(t, 0.5, res.Credit, 1e-9)
	assert.Contains(t, res.Detail, "feature/old")
}

func TestExceptions(t *testing.T) {
	c := newTestChecker(t, func(cfg *config.AuditConfig) {
		cfg.Exceptions["legacy"] = config.Exception{DefaultBranch: "master", SkipChecks: []string{domain.CheckStandardFiles}}
		cfg.Exceptions["acme/attic"] = config.Exception{ArchivedExempt: true}
	})

	legacy := compliantSnapshot()
	legacy.FullName = "acme/legacy"
	legacy.DefaultBranch = "master"
	legacy.FilesPresent = map[string]bool{}
	res := c.Evaluate(legacy)
	assert.True(t, checkByID(t, res, domain.CheckDefaultBranch).Passed)
	assert.True(t, checkByID(t, res, domain.CheckStandardFiles).Passed)
	assert.Equal(t, 100, *res.Score)

	attic := &domain.RepositorySnapshot{FullName: "acme/attic", DefaultBranch: "trunk", IsArchived: true}
	res = c.Evaluate(attic)
	assert.Equal(t, 100, *res.Score)

	notExempt := &domain.RepositorySnapshot{FullName: "acme/other", DefaultBranch: "trunk", IsArchived: true}
	res = c.Evaluate(notExempt)
	assert.Less(t, *res.Score, 100)
}

func TestProperties_ContributorWindows(t *testing.T) {
	c := newTestChecker(t, func(cfg *config.AuditConfig) {
		cfg.ContributorWindowDays = 365
		cfg.PrimaryContributorWindowDays = 90
	})

	snap := compliantSnapshot()
	for i := 0; i < 40; i++ {
		snap.CommitAuthors = append(snap.CommitAuthors, domain.CommitAuthor{Login: "alice", CommittedAt: *ago(i % 30)})
	}
	for i := 0; i < 5; i++ {
		snap.CommitAuthors = append(snap.CommitAuthors, domain.CommitAuthor{Login: "bob", CommittedAt: *ago(200)})
	}
	snap.CommitAuthors = append(snap.CommitAuthors, domain.CommitAuthor{Login: "dependabot[bot]", CommittedAt: *ago(1)})
	snap.CommitsFetched = true

	props := c.Evaluate(snap).Properties
	require.NotNil(t, props.ContributorsCount)
	require.NotNil(t, props.PrimaryContributor)
	assert.Equal(t, 2, *props.ContributorsCount)
	assert.Equal(t, "alice", *props.PrimaryContributor)
}

func TestProperties_PrimaryContributorFallsBackToLongerWindow(t *testing.T) {
	c := newTestChecker(t)
	snap := compliantSnapshot()
	snap.CommitAuthors = []domain.CommitAuthor{
		{Login: "bob", CommittedAt: *ago(200)},
		{Login: "carol", CommittedAt: *ago(150)},
		{Login: "carol", CommittedAt: *ago(160)},
		{Login: "dave", CommittedAt: *ago(500)},
	}

	props := c.Evaluate(snap).Properties
	assert.Equal(t, "carol", *props.PrimaryContributor)
	assert.Equal(t, 2, *props.ContributorsCount)
}

func TestProperties_FilterControlsPresence(t *testing.T) {
	c := newTestChecker(t, func(cfg *config.AuditConfig) {
		cfg.PropertyFilter = config.PropertyFilter{
			Include: []string{domain.PropertyArchived, domain.PropertyPrimaryLanguage, domain.PropertyLastCommitDate},
		}
	})

	props := c.Evaluate(compliantSnapshot()).Properties
	assert.NotNil(t, props.Archived)
	assert.NotNil(t, props.PrimaryLanguage)
	assert.Equal(t, "Go", *props.PrimaryLanguage)
	assert.NotNil(t, props.LastCommitDate)
	assert.Equal(t, *ago(2), *props.LastCommitDate)

	assert.Nil(t, props.DefaultBranch)
	assert.Nil(t, props.Forked)
	assert.Nil(t, props.PrimaryContributor)
	assert.Nil(t, props.ContributorsCount)
	assert.Nil(t, props.TimeSinceLastCommit)
}

func TestProperties_AllIncludedByDefault(t *testing.T) {
	c := newTestChecker(t)
	props := c.Evaluate(compliantSnapshot()).Properties

	assert.NotNil(t, props.DefaultBranch)
	assert.NotNil(t, props.Archived)
	assert.NotNil(t, props.Forked)
	assert.NotNil(t, props.PrimaryLanguage)
	assert.NotNil(t, props.PrimaryContributor)
	assert.NotNil(t, props.ContributorsCount)
	assert.NotNil(t, props.LastCommitDate)
	require.NotNil(t, props.TimeSinceLastCommit)
	assert.Equal(t, "2d", *props.TimeSinceLastCommit)
}

func TestPropertiesNeverAffectScore(t *testing.T) {
	all := newTestChecker(t)
	none := newTestChecker(t, func(cfg *config.AuditConfig) {
		cfg.PropertyFilter.Include = []string{domain.PropertyComplianceScore}
	})

	snap := compliantSnapshot()
	snap.FilesPresent = map[string]bool{"LICENSE": true}
	assert.Equal(t, *all.Evaluate(snap).Score, *none.Evaluate(snap).Score)
}

func TestHumanizeSince(t *testing.T) {
	testCases := []struct {
		days int
		want string
	}{
		{days: 0, want: "0d"},
		{days: 5, want: "5d"},
		{days: 45, want: "1m 15d"},
		{days: 365, want: "1y 5d"},
		{days: 800, want: "2y 2m 20d"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, HumanizeSince(*ago(tc.days), testNow), "days=%d", tc.days)
	}
	assert.Equal(t, "0d", HumanizeSince(testNow.Add(time.Hour), testNow))
}

func TestPrimaryLanguage(t *testing.T) {
	assert.Equal(t, "", PrimaryLanguage(nil))
	assert.Equal(t, "Go", PrimaryLanguage(map[string]int{"Go": 10, "Shell": 3}))
	assert.Equal(t, "C", PrimaryLanguage(map[string]int{"Go": 10, "C": 10}))
}

func TestBotMatcher(t *testing.T) {
	m, err := NewBotMatcher(config.DefaultAuditConfig().BotPatterns)
	require.NoError(t, err)

	for _, login := range []string{"dependabot[bot]", "github-actions[bot]", "Renovate", "mergebot", "dependabot-preview"} {
		assert.True(t, m.IsBot(login), login)
	}
	for _, login := range []string{"alice", "robotics-team", "bottle"} {
		assert.False(t, m.IsBot(login), login)
	}
	assert.Equal(t, 2, m.HumanCount([]string{"alice", "Alice", "bob", "renovate[bot]", ""}))
}
