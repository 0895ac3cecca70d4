package collector

import (
	"context"
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

// Collector defines the interface for collecting GitHub data
type Collector interface {
	// ListRepositories returns the names of every repository in an organization
	ListRepositories(ctx context.Context, org string) ([]string, error)

	// RefreshRateLimit reads the current budget and applies it to the shared limiter
	RefreshRateLimit(ctx context.Context) (domain.RateBudget, error)

	// GetRepository retrieves repository metadata
	GetRepository(ctx context.Context, owner, repo string) (*RepositoryInfo, error)

	// ListLanguages returns bytes of code per language
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error)

	// ListBranches returns every branch with the date of its head commit
	ListBranches(ctx context.Context, owner, repo string) ([]domain.Branch, error)

	// GetBranchProtection returns nil when the branch is unprotected or protection is not visible
	GetBranchProtection(ctx context.Context, owner, repo, branch string) (*domain.BranchProtection, error)

	// ListContributors returns contributor logins
	ListContributors(ctx context.Context, owner, repo string) ([]string, error)

	// FindFiles reports which of the named files exist in the root, .github or docs directory
	FindFiles(ctx context.Context, owner, repo string, names []string) (map[string]bool, error)

	// ListWorkflows returns the Actions workflows with their YAML content
	ListWorkflows(ctx context.Context, owner, repo string) ([]domain.Workflow, error)

	// ListCommitAuthors enumerates default-branch commits since a date, up to max commits
	ListCommitAuthors(ctx context.Context, owner, repo string, since time.Time, max int) ([]domain.CommitAuthor, error)

	// FetchSnapshot gathers everything the checker needs, skipping calls the plan does not ask for
	FetchSnapshot(ctx context.Context, owner, repo string, plan FetchPlan) (*domain.RepositorySnapshot, error)
}

// RepositoryInfo is repository metadata from the repository endpoint
type RepositoryInfo struct {
	FullName      string
	DefaultBranch string
	Archived      bool
	Fork          bool
	Language      string
}

// FetchPlan says which optional, expensive calls a snapshot needs
type FetchPlan struct {
	Languages     bool
	CommitAuthors bool
	CommitsSince  time.Time
	MaxCommits    int
	StandardFiles []string
}
