// Package checker scores a repository snapshot against the organization policy.
package checker

import (
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

// Checker evaluates snapshots. It holds no mutable state and is safe for concurrent use.
type Checker struct {
	cfg  *config.AuditConfig
	bots *BotMatcher
	now  func() time.Time
}

// New creates a Checker for a validated policy
func New(cfg *config.AuditConfig) (*Checker, error) {
	bots, err := NewBotMatcher(cfg.BotPatterns)
	if err != nil {
		return nil, err
	}
	return &Checker{cfg: cfg, bots: bots, now: time.Now}, nil
}

// Evaluate runs every scored check and computes the properties selected by
// the policy's property filter.
func (c *Checker) Evaluate(snap *domain.RepositorySnapshot) *domain.AuditResult {
	now := c.now()
	checks := c.Checks(snap, now)
	score := domain.ComputeScore(checks)

	return &domain.AuditResult{
		Repository: snap.FullName,
		Status:     domain.AuditStatusDone,
		Score:      &score,
		Checks:     checks,
		Properties: c.Properties(snap, now),
		Timestamp:  now,
	}
}

// Checks returns one result per scored check, weighted from the policy
func (c *Checker) Checks(snap *domain.RepositorySnapshot, now time.Time) []domain.CheckResult {
	ex, _ := c.cfg.ExceptionFor(snap.FullName)

	var checks []domain.CheckResult
	for _, id := range domain.ScoredChecks {
		var r domain.CheckResult
		switch {
		case snap.IsArchived && ex.ArchivedExempt:
			r = pass(id, "archived repository exempt by exception")
		case ex.Skips(id):
			r = pass(id, "skipped by exception")
		default:
			r = c.run(id, snap, ex, now)
		}
		r.Weight = c.cfg.Weight(id)
		checks = append(checks, r)
	}
	return checks
}

func (c *Checker) run(id string, snap *domain.RepositorySnapshot, ex config.Exception, now time.Time) domain.CheckResult {
	switch id {
	case domain.CheckDefaultBranch:
		return checkDefaultBranch(snap, c.cfg, ex)
	case domain.CheckBranchProtection:
		return checkBranchProtection(snap, c.cfg, c.bots)
	case domain.CheckBranchNaming:
		return checkBranchNaming(snap, c.cfg, ex)
	case domain.CheckStandardFiles:
		return checkStandardFiles(snap, c.cfg)
	case domain.CheckCIPattern:
		return checkCIPattern(snap)
	case domain.CheckStaleBranches:
		return checkStaleBranches(snap, c.cfg, now)
	}
	return fail(id, "unknown check")
}

// Properties computes informational values. A field is set only when the
// property filter includes it; last_commit_date stays nil for a repository
// without commits.
func (c *Checker) Properties(snap *domain.RepositorySnapshot, now time.Time) domain.Properties {
	filter := c.cfg.PropertyFilter
	var p domain.Properties

	if filter.Includes(domain.PropertyDefaultBranch) {
		v := snap.DefaultBranch
		p.DefaultBranch = &v
	}
	if filter.Includes(domain.PropertyArchived) {
		v := snap.IsArchived
		p.Archived = &v
	}
	if filter.Includes(domain.PropertyForked) {
		v := snap.IsFork
		p.Forked = &v
	}
	if filter.Includes(domain.PropertyPrimaryLanguage) {
		v := PrimaryLanguage(snap.Languages)
		if v == "" {
			v = snap.PrimaryLanguage
		}
		p.PrimaryLanguage = &v
	}

	wantCount := filter.Includes(domain.PropertyContributorsCount)
	wantPrimary := filter.Includes(domain.PropertyPrimaryContributor)
	if wantCount || wantPrimary {
		stats := computeContributors(snap.CommitAuthors, c.bots, now,
			days(c.cfg.ContributorWindowDays), days(c.cfg.PrimaryContributorWindowDays))
		if wantCount {
			p.ContributorsCount = &stats.Count
		}
		if wantPrimary {
			p.PrimaryContributor = &stats.Primary
		}
	}

	last := snap.LastCommitOn(snap.DefaultBranch)
	if filter.Includes(domain.PropertyLastCommitDate) && last != nil {
		v := *last
		p.LastCommitDate = &v
	}
	if filter.Includes(domain.PropertyTimeSinceLastCommit) {
		v := "never"
		if last != nil {
			v = HumanizeSince(*last, now)
		}
		p.TimeSinceLastCommit = &v
	}
	return p
}

// PrimaryLanguage returns the language with the most bytes; ties go to the
// lexicographically smaller name.
func PrimaryLanguage(languages map[string]int) string {
	best, bestBytes := "", -1
	for lang, n := range languages {
		if n > bestBytes || (n == bestBytes && lang < best) {
			best, bestBytes = lang, n
		}
	}
	return best
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
