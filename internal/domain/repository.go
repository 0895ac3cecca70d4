package domain

import "time"

// RepositorySnapshot is everything the checker needs to know about one repository.
// It is built once per audit pass and never mutated afterwards.
type RepositorySnapshot struct {
	Owner           string
	Name            string
	FullName        string
	DefaultBranch   string
	IsArchived      bool
	IsFork          bool
	PrimaryLanguage string
	Languages       map[string]int // nil when languages were not requested

	BranchProtection *BranchProtection // nil means the default branch is unprotected
	RequiredFiles    []string
	FilesPresent     map[string]bool
	Branches         []Branch

	// Contributors are the logins listed as contributors, bots included.
	Contributors []string

	// CommitAuthors is populated only when contributor properties were requested.
	CommitAuthors  []CommitAuthor
	CommitsFetched bool

	Workflows []Workflow
	FetchedAt time.Time
}

// Branch is a branch name and the date of its head commit
type Branch struct {
	Name         string
	LastCommitAt *time.Time
}

// BranchProtection is the subset of classic branch protection the audit looks at
type BranchProtection struct {
	RequiresPullRequest  bool
	RequiredReviews      int
	RequiredStatusChecks []string
	AllowsForcePushes    bool
	EnforceAdmins        bool
	LinearHistory        bool
}

// CommitAuthor is one commit attributed to a login
type CommitAuthor struct {
	Login       string
	CommittedAt time.Time
}

// Workflow is a GitHub Actions workflow definition
type Workflow struct {
	Name    string
	Path    string
	Content string
}

// LastCommitOn returns the head commit date of the named branch, if known.
func (s *RepositorySnapshot) LastCommitOn(branch string) *time.Time {
	for _, b := range s.Branches {
		if b.Name == branch {
			return b.LastCommitAt
		}
	}
	return nil
}
