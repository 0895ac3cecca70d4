package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
)

// DefaultAuditConfigPath is read when no --config flag is given and the file exists.
const DefaultAuditConfigPath = "compliance.yaml"

// Exception relaxes the policy for one repository
type Exception struct {
	DefaultBranch        string   `yaml:"default_branch"`
	AllowReleaseBranches bool     `yaml:"allow_release_branches"`
	SkipChecks           []string `yaml:"skip_checks"`
	ArchivedExempt       bool     `yaml:"archived_exempt"`
}

// Skips reports whether the exception auto-passes the given check
func (e Exception) Skips(checkID string) bool {
	for _, id := range e.SkipChecks {
		if id == checkID {
			return true
		}
	}
	return false
}

// ProtectionPolicy is the minimum branch protection for the default branch
type ProtectionPolicy struct {
	MinReviews          int  `yaml:"min_reviews"`
	RequireStatusChecks bool `yaml:"require_status_checks"`
	ForbidForcePush     bool `yaml:"forbid_force_push"`
}

// PropertyFilter selects which informational properties are computed
type PropertyFilter struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Includes reports whether the property should be computed and emitted.
// An empty Include list means every property; Exclude always wins.
// compliance_score is always included.
func (f PropertyFilter) Includes(name string) bool {
	if name == domain.PropertyComplianceScore {
		return true
	}
	for _, ex := range f.Exclude {
		if ex == name {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, in := range f.Include {
		if in == name {
			return true
		}
	}
	return false
}

// ScoreFilter bounds which scored results are emitted
type ScoreFilter struct {
	Min *int `yaml:"min"`
	Max *int `yaml:"max"`
}

// Allows reports whether a score falls inside the inclusive bounds
func (f ScoreFilter) Allows(score int) bool {
	if f.Min != nil && score < *f.Min {
		return false
	}
	if f.Max != nil && score > *f.Max {
		return false
	}
	return true
}

// Tracking selects where audit results are mirrored. Empty fields fall back to the environment.
// Enabled defaults to true; the --dry-run flag also skips writes.
type Tracking struct {
	Enabled     bool   `yaml:"enabled"`
	StorageType string `yaml:"storage_type"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// AuditConfig is the organization policy. It is loaded once and read-only during a run.
type AuditConfig struct {
	Organization  string               `yaml:"organization"`
	DefaultBranch string               `yaml:"default_branch"`
	Exceptions    map[string]Exception `yaml:"exceptions"`

	ContributorWindowDays        int `yaml:"contributor_window_days"`
	PrimaryContributorWindowDays int `yaml:"primary_contributor_window_days"`
	StaleBranchDays              int `yaml:"stale_branch_days"`
	MaxCommits                   int `yaml:"max_commits"`

	StandardFiles         []string           `yaml:"standard_files"`
	AllowedBranchPrefixes []string           `yaml:"allowed_branch_prefixes"`
	IgnoredBranches       []string           `yaml:"ignored_branches"`
	BotPatterns           []string           `yaml:"bot_patterns"`
	Protection            ProtectionPolicy   `yaml:"protection"`
	Weights               map[string]float64 `yaml:"weights"`

	PropertyFilter PropertyFilter `yaml:"properties"`
	ScoreFilter    ScoreFilter    `yaml:"score"`

	Workers     int           `yaml:"workers"`
	RepoTimeout time.Duration `yaml:"repo_timeout"`
	Tracking    Tracking      `yaml:"tracking"`
}

// DefaultAuditConfig returns the built-in policy
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		DefaultBranch:                "main",
		Exceptions:                   map[string]Exception{},
		ContributorWindowDays:        365,
		PrimaryContributorWindowDays: 90,
		StaleBranchDays:              90,
		MaxCommits:                   1000,
		StandardFiles:                []string{"LICENSE", "SECURITY.md", "CONTRIBUTING.md", "CODEOWNERS"},
		AllowedBranchPrefixes:        []string{"feature/", "bugfix/", "hotfix/", "backport/"},
		IgnoredBranches:              []string{"main", "master", "staging"},
		BotPatterns:                  []string{`.*\[bot\]$`, `.*bot$`, `^dependabot`, `^renovate`},
		Protection: ProtectionPolicy{
			MinReviews:          1,
			RequireStatusChecks: true,
			ForbidForcePush:     true,
		},
		Weights: map[string]float64{
			domain.CheckDefaultBranch:    10,
			domain.CheckBranchProtection: 20,
			domain.CheckBranchNaming:     10,
			domain.CheckStandardFiles:    15,
			domain.CheckCIPattern:        15,
			domain.CheckStaleBranches:    10,
		},
		Workers:     4,
		RepoTimeout: 30 * time.Minute,
		Tracking:    Tracking{Enabled: true},
	}
}

// LoadAuditConfig reads a YAML policy file over the defaults. An empty path
// falls back to DefaultAuditConfigPath when that file exists.
func LoadAuditConfig(path string) (*AuditConfig, error) {
	cfg := DefaultAuditConfig()

	if path == "" {
		if _, err := os.Stat(DefaultAuditConfigPath); err != nil {
			return cfg, nil
		}
		path = DefaultAuditConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("config", fmt.Sprintf("read %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewConfigError("config", fmt.Sprintf("parse %s: %v", path, err))
	}
	if cfg.Exceptions == nil {
		cfg.Exceptions = map[string]Exception{}
	}
	return cfg, nil
}

// Validate checks the policy for values that would make a run meaningless
func (c *AuditConfig) Validate() error {
	if c.Organization == "" {
		return apperrors.NewConfigError("organization", "is required")
	}
	if c.DefaultBranch == "" {
		return apperrors.NewConfigError("default_branch", "is required")
	}
	if c.ContributorWindowDays <= 0 {
		return apperrors.NewConfigError("contributor_window_days", "must be positive")
	}
	if c.PrimaryContributorWindowDays <= 0 {
		return apperrors.NewConfigError("primary_contributor_window_days", "must be positive")
	}
	if c.StaleBranchDays <= 0 {
		return apperrors.NewConfigError("stale_branch_days", "must be positive")
	}
	if c.MaxCommits <= 0 {
		return apperrors.NewConfigError("max_commits", "must be positive")
	}
	if c.Workers <= 0 {
		return apperrors.NewConfigError("workers", "must be positive")
	}
	if c.RepoTimeout <= 0 {
		return apperrors.NewConfigError("repo_timeout", "must be positive")
	}
	if c.Protection.MinReviews < 0 {
		return apperrors.NewConfigError("protection.min_reviews", "must not be negative")
	}

	var total float64
	for id, w := range c.Weights {
		if !isScoredCheck(id) {
			return apperrors.NewConfigError("weights", fmt.Sprintf("unknown check %q", id))
		}
		if w < 0 {
			return apperrors.NewConfigError("weights", fmt.Sprintf("weight of %q must not be negative", id))
		}
		total += w
	}
	if total <= 0 {
		return apperrors.NewConfigError("weights", "at least one check must carry weight")
	}

	for _, name := range append(append([]string{}, c.PropertyFilter.Include...), c.PropertyFilter.Exclude...) {
		if !isKnownProperty(name) {
			return apperrors.NewConfigError("properties", fmt.Sprintf("unknown property %q", name))
		}
	}

	if err := validateScoreBound("score.min", c.ScoreFilter.Min); err != nil {
		return err
	}
	if err := validateScoreBound("score.max", c.ScoreFilter.Max); err != nil {
		return err
	}
	if c.ScoreFilter.Min != nil && c.ScoreFilter.Max != nil && *c.ScoreFilter.Min > *c.ScoreFilter.Max {
		return apperrors.NewConfigError("score", "min must not exceed max")
	}

	for repo, ex := range c.Exceptions {
		for _, id := range ex.SkipChecks {
			if !isScoredCheck(id) {
				return apperrors.NewConfigError("exceptions."+repo, fmt.Sprintf("unknown check %q", id))
			}
		}
	}

	for _, p := range c.BotPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return apperrors.NewConfigError("bot_patterns", fmt.Sprintf("invalid pattern %q: %v", p, err))
		}
	}
	return nil
}

// ExceptionFor looks up an exception by full name first, then by repository name.
func (c *AuditConfig) ExceptionFor(fullName string) (Exception, bool) {
	if ex, ok := c.Exceptions[fullName]; ok {
		return ex, true
	}
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		ex, ok := c.Exceptions[fullName[i+1:]]
		return ex, ok
	}
	return Exception{}, false
}

// Weight returns the configured weight of a check, or 0.
func (c *AuditConfig) Weight(checkID string) float64 {
	return c.Weights[checkID]
}

func validateScoreBound(field string, v *int) error {
	if v != nil && (*v < 0 || *v > 100) {
		return apperrors.NewConfigError(field, "must be between 0 and 100")
	}
	return nil
}

func isScoredCheck(id string) bool {
	for _, c := range domain.ScoredChecks {
		if c == id {
			return true
		}
	}
	return false
}

func isKnownProperty(name string) bool {
	for _, p := range domain.KnownProperties {
		if p == name {
			return true
		}
	}
	return false
}
