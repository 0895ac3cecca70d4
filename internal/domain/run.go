package domain

import "time"

// AuditRun is one invocation over a set of repositories
type AuditRun struct {
	ID           string
	Organization string
	StartedAt    time.Time
	FinishedAt   time.Time

	// Results holds every requested repository, sorted by name.
	Results []*AuditResult
	// Emitted is the subset of Results that passed the score filter.
	Emitted []*AuditResult
}

// RunSummary is the persisted digest of an AuditRun
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Organization string    `json:"organization"`
	Requested    int       `json:"requested"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	TimedOut     int       `json:"timed_out"`
	Emitted      int       `json:"emitted"`
	AverageScore float64   `json:"average_score"`
	MedianScore  float64   `json:"median_score"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Report is the JSON document written by the CLI
type Report struct {
	RunID          string         `json:"run_id"`
	Organization   string         `json:"organization"`
	AuditTimestamp time.Time      `json:"audit_timestamp"`
	ReposAudited   int            `json:"repos_audited"`
	Summary        RunSummary     `json:"summary"`
	Results        []*AuditResult `json:"results"`
}

// OrgSummary describes the latest stored result of every repository in an organization
type OrgSummary struct {
	Organization  string             `json:"organization"`
	Repositories  int                `json:"repositories"`
	Scored        int                `json:"scored"`
	Unscored      int                `json:"unscored"`
	AverageScore  float64            `json:"average_score"`
	MedianScore   float64            `json:"median_score"`
	MinScore      float64            `json:"min_score"`
	MaxScore      float64            `json:"max_score"`
	CheckPassRate map[string]float64 `json:"check_pass_rate"`
	LastRun       *RunSummary        `json:"last_run,omitempty"`
}
