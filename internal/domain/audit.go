package domain

import (
	"math"
	"time"
)

// Check identifiers
const (
	CheckDefaultBranch    = "default_branch"
	CheckBranchProtection = "branch_protection"
	CheckBranchNaming     = "branch_naming"
	CheckStandardFiles    = "standard_files"
	CheckCIPattern        = "ci_pattern"
	CheckStaleBranches    = "stale_branches"
)

// ScoredChecks lists every check that contributes to the compliance score, in report order.
var ScoredChecks = []string{
	CheckDefaultBranch,
	CheckBranchProtection,
	CheckBranchNaming,
	CheckStandardFiles,
	CheckCIPattern,
	CheckStaleBranches,
}

// Property names accepted by the include/exclude filter
const (
	PropertyComplianceScore     = "compliance_score"
	PropertyDefaultBranch       = "default_branch"
	PropertyArchived            = "archived"
	PropertyForked              = "forked"
	PropertyPrimaryLanguage     = "primary_language"
	PropertyPrimaryContributor  = "primary_contributor"
	PropertyContributorsCount   = "contributors_count"
	PropertyLastCommitDate      = "last_commit_date"
	PropertyTimeSinceLastCommit = "time_since_last_commit"
)

// KnownProperties lists every property name the filter understands.
var KnownProperties = []string{
	PropertyComplianceScore,
	PropertyDefaultBranch,
	PropertyArchived,
	PropertyForked,
	PropertyPrimaryLanguage,
	PropertyPrimaryContributor,
	PropertyContributorsCount,
	PropertyLastCommitDate,
	PropertyTimeSinceLastCommit,
}

// AuditStatus is the terminal state of one repository audit
type AuditStatus string

const (
	AuditStatusDone     AuditStatus = "done"
	AuditStatusFailed   AuditStatus = "failed"
	AuditStatusTimedOut AuditStatus = "timed_out"
)

// CheckResult is the outcome of one rule against one repository.
// Credit is 1 or 0 for pass/fail rules and fractional for proportional ones.
type CheckResult struct {
	ID     string  `json:"id"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
	Credit float64 `json:"credit"`
	Detail string  `json:"detail"`
}

// Properties are informational values attached to a result. A nil field
// means the property was excluded by the property filter.
type Properties struct {
	DefaultBranch       *string    `json:"default_branch,omitempty"`
	Archived            *bool      `json:"archived,omitempty"`
	Forked              *bool      `json:"forked,omitempty"`
	PrimaryLanguage     *string    `json:"primary_language,omitempty"`
	PrimaryContributor  *string    `json:"primary_contributor,omitempty"`
	ContributorsCount   *int       `json:"contributors_count,omitempty"`
	LastCommitDate      *time.Time `json:"last_commit_date,omitempty"`
	TimeSinceLastCommit *string    `json:"time_since_last_commit,omitempty"`
}

// AuditError describes why a repository could not be scored
type AuditError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuditResult is the unit handed to result sinks: one per repository per run
type AuditResult struct {
	Repository string        `json:"repository"`
	Status     AuditStatus   `json:"status"`
	Score      *int          `json:"score,omitempty"`
	Checks     []CheckResult `json:"checks,omitempty"`
	Properties Properties    `json:"properties"`
	Timestamp  time.Time     `json:"timestamp"`
	Error      *AuditError   `json:"error,omitempty"`
}

// Scored reports whether the result carries a compliance score.
func (r *AuditResult) Scored() bool {
	return r.Score != nil
}

// ComputeScore returns round(100 * sum(credit*weight) / sum(weight)), clamped to [0, 100].
func ComputeScore(checks []CheckResult) int {
	var earned, total float64
	for _, c := range checks {
		if c.Weight <= 0 {
			continue
		}
		credit := math.Max(0, math.Min(1, c.Credit))
		earned += credit * c.Weight
		total += c.Weight
	}
	if total == 0 {
		return 0
	}
	score := int(math.Round(100 * earned / total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
