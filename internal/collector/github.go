package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/githubapi"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
)

const (
	perPage              = 100
	branchLookupParallel = 4
)

// fileLocations are the directories GitHub itself searches for community files.
var fileLocations = []string{"", ".github", "docs"}

// githubCollector implements Collector using GitHub API
type githubCollector struct {
	client      *github.Client
	rateLimiter RateLimiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewAPIClient builds a go-github client whose requests pass through the
// retrying Transport and carry the credential from source.
func NewAPIClient(source oauth2.TokenSource, invalidator Invalidator, limiter RateLimiter, baseURL string, logger *zap.Logger) (*github.Client, error) {
	transport := NewTransport(&oauth2.Transport{Source: source}, limiter, invalidator, logger)
	return githubapi.NewClient(&http.Client{Transport: transport}, baseURL)
}

// NewGitHubCollector creates a new GitHub collector
func NewGitHubCollector(client *github.Client, limiter RateLimiter, logger *zap.Logger) Collector {
	return &githubCollector{
		client:      client,
		rateLimiter: limiter,
		logger:      logging.OrNop(logger),
		now:         time.Now,
	}
}

// ListRepositories retrieves all repository names for an organization
func (c *githubCollector) ListRepositories(ctx context.Context, org string) ([]string, error) {
	var names []string
	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		repos, resp, err := c.client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, classify(err, "orgs/"+org+"/repos")
		}
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.Strings(names)
	return names, nil
}

type rateLimitPayload struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// RefreshRateLimit reads the core budget from the rate_limit endpoint
func (c *githubCollector) RefreshRateLimit(ctx context.Context) (domain.RateBudget, error) {
	req, err := c.client.NewRequest(http.MethodGet, "rate_limit", nil)
	if err != nil {
		return domain.RateBudget{}, fmt.Errorf("build rate_limit request: %w", err)
	}
	var payload rateLimitPayload
	if _, err := c.client.Do(ctx, req, &payload); err != nil {
		return domain.RateBudget{}, classify(err, "rate_limit")
	}

	budget := domain.RateBudget{
		Remaining: payload.Resources.Core.Remaining,
		Limit:     payload.Resources.Core.Limit,
		ResetAt:   time.Unix(payload.Resources.Core.Reset, 0),
		Known:     true,
	}
	c.rateLimiter.Update(budget)
	return c.rateLimiter.Budget(), nil
}

// GetRepository retrieves repository metadata
func (c *githubCollector) GetRepository(ctx context.Context, owner, repo string) (*RepositoryInfo, error) {
	r, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, classify(err, "repos/"+owner+"/"+repo)
	}
	return &RepositoryInfo{
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		Archived:      r.GetArchived(),
		Fork:          r.GetFork(),
		Language:      r.GetLanguage(),
	}, nil
}

// ListLanguages returns bytes of code per language
func (c *githubCollector) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	langs, _, err := c.client.Repositories.ListLanguages(ctx, owner, repo)
	if err != nil {
		return nil, classify(err, "repos/"+owner+"/"+repo+"/languages")
	}
	if langs == nil {
		langs = map[string]int{}
	}
	return langs, nil
}

// ListBranches returns every branch with the date of its head commit
func (c *githubCollector) ListBranches(ctx context.Context, owner, repo string) ([]domain.Branch, error) {
	var names []string
	opts := &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		branches, resp, err := c.client.Repositories.ListBranches(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, "repos/"+owner+"/"+repo+"/branches")
		}
		for _, b := range branches {
			names = append(names, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	result := make([]domain.Branch, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(branchLookupParallel)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			last, err := c.lastCommitDate(gctx, owner, repo, name)
			if err != nil {
				return err
			}
			result[i] = domain.Branch{Name: name, LastCommitAt: last}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *githubCollector) lastCommitDate(ctx context.Context, owner, repo, branch string) (*time.Time, error) {
	commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		// Empty repository
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, classify(err, "repos/"+owner+"/"+repo+"/commits")
	}
	if len(commits) == 0 {
		return nil, nil
	}
	date := commits[0].GetCommit().GetCommitter().GetDate().Time
	if date.IsZero() {
		date = commits[0].GetCommit().GetAuthor().GetDate().Time
	}
	if date.IsZero() {
		return nil, nil
	}
	return &date, nil
}

type protectionPayload struct {
	RequiredStatusChecks *struct {
		Contexts []string `json:"contexts"`
		Checks   []struct {
			Context string `json:"context"`
		} `json:"checks"`
	} `json:"required_status_checks"`
	RequiredPullRequestReviews *struct {
		RequiredApprovingReviewCount int `json:"required_approving_review_count"`
	} `json:"required_pull_request_reviews"`
	EnforceAdmins *struct {
		Enabled bool `json:"enabled"`
	} `json:"enforce_admins"`
	RequiredLinearHistory *struct {
		Enabled bool `json:"enabled"`
	} `json:"required_linear_history"`
	AllowForcePushes *struct {
		Enabled bool `json:"enabled"`
	} `json:"allow_force_pushes"`
}

// GetBranchProtection reads classic branch protection. 404 means unprotected;
// a 403 for an integration without the administration permission is treated the same.
func (c *githubCollector) GetBranchProtection(ctx context.Context, owner, repo, branch string) (*domain.BranchProtection, error) {
	u := fmt.Sprintf("repos/%s/%s/branches/%s/protection", owner, repo, url.PathEscape(branch))
	req, err := c.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build protection request: %w", err)
	}

	var payload protectionPayload
	resp, err := c.client.Do(ctx, req, &payload)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		var errResp *github.ErrorResponse
		if resp != nil && resp.StatusCode == http.StatusForbidden && errors.As(err, &errResp) &&
			strings.Contains(strings.ToLower(errResp.Message), "not accessible by integration") {
			c.logger.Debug("branch protection not visible to integration",
				zap.String("repository", owner+"/"+repo))
			return nil, nil
		}
		return nil, classify(err, u)
	}

	p := &domain.BranchProtection{}
	if rsc := payload.RequiredStatusChecks; rsc != nil {
		seen := map[string]bool{}
		for _, ctxName := range rsc.Contexts {
			if !seen[ctxName] {
				seen[ctxName] = true
				p.RequiredStatusChecks = append(p.RequiredStatusChecks, ctxName)
			}
		}
		for _, check := range rsc.Checks {
			if !seen[check.Context] {
				seen[check.Context] = true
				p.RequiredStatusChecks = append(p.RequiredStatusChecks, check.Context)
			}
		}
	}
	if prr := payload.RequiredPullRequestReviews; prr != nil {
		p.RequiresPullRequest = true
		p.RequiredReviews = prr.RequiredApprovingReviewCount
	}
	if payload.EnforceAdmins != nil {
		p.EnforceAdmins = payload.EnforceAdmins.Enabled
	}
	if payload.RequiredLinearHistory != nil {
		p.LinearHistory = payload.RequiredLinearHistory.Enabled
	}
	if payload.AllowForcePushes != nil {
		p.AllowsForcePushes = payload.AllowForcePushes.Enabled
	}
	return p, nil
}

// ListContributors returns contributor logins
func (c *githubCollector) ListContributors(ctx context.Context, owner, repo string) ([]string, error) {
	var logins []string
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		contributors, resp, err := c.client.Repositories.ListContributors(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, "repos/"+owner+"/"+repo+"/contributors")
		}
		for _, contributor := range contributors {
			if login := contributor.GetLogin(); login != "" {
				logins = append(logins, login)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return logins, nil
}

// FindFiles lists the root, .github and docs directories once each and matches
// names case-insensitively. A name without an extension also matches any extension
// (LICENSE matches LICENSE.md).
func (c *githubCollector) FindFiles(ctx context.Context, owner, repo string, names []string) (map[string]bool, error) {
	found := make(map[string]bool, len(names))
	for _, name := range names {
		found[name] = false
	}
	if len(names) == 0 {
		return found, nil
	}

	for _, dir := range fileLocations {
		entries, err := c.listDir(ctx, owner, repo, dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			for _, name := range names {
				if fileMatches(entry, name) {
					found[name] = true
				}
			}
		}
	}
	return found, nil
}

func (c *githubCollector) listDir(ctx context.Context, owner, repo, dir string) ([]string, error) {
	_, contents, resp, err := c.client.Repositories.GetContents(ctx, owner, repo, dir, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify(err, "repos/"+owner+"/"+repo+"/contents/"+dir)
	}
	entries := make([]string, 0, len(contents))
	for _, entry := range contents {
		if entry.GetType() == "file" {
			entries = append(entries, entry.GetName())
		}
	}
	return entries, nil
}

func fileMatches(entry, name string) bool {
	if strings.EqualFold(entry, name) {
		return true
	}
	if path.Ext(name) != "" {
		return false
	}
	return strings.EqualFold(strings.TrimSuffix(entry, path.Ext(entry)), name)
}

// ListWorkflows returns the Actions workflows with their YAML content
func (c *githubCollector) ListWorkflows(ctx context.Context, owner, repo string) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	opts := &github.ListOptions{PerPage: perPage}

	for {
		page, resp, err := c.client.Actions.ListWorkflows(ctx, owner, repo, opts)
		if err != nil {
			// Actions disabled
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil, nil
			}
			return nil, classify(err, "repos/"+owner+"/"+repo+"/actions/workflows")
		}
		for _, wf := range page.Workflows {
			workflows = append(workflows, domain.Workflow{Name: wf.GetName(), Path: wf.GetPath()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for i := range workflows {
		// Dynamic workflows (code scanning, pages) have no file in the repository.
		if !strings.HasPrefix(workflows[i].Path, ".github/workflows/") {
			continue
		}
		content, err := c.fileContent(ctx, owner, repo, workflows[i].Path)
		if err != nil {
			return nil, err
		}
		workflows[i].Content = content
	}
	return workflows, nil
}

func (c *githubCollector) fileContent(ctx context.Context, owner, repo, filePath string) (string, error) {
	file, _, resp, err := c.client.Repositories.GetContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", classify(err, "repos/"+owner+"/"+repo+"/contents/"+filePath)
	}
	if file == nil {
		return "", nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filePath, err)
	}
	return content, nil
}

// ListCommitAuthors enumerates default-branch commits since a date, up to max commits
func (c *githubCollector) ListCommitAuthors(ctx context.Context, owner, repo string, since time.Time, max int) ([]domain.CommitAuthor, error) {
	var authors []domain.CommitAuthor
	opts := &github.CommitsListOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	seen := 0

	for {
		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			// Empty repository
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return authors, nil
			}
			return nil, classify(err, "repos/"+owner+"/"+repo+"/commits")
		}
		for _, commit := range commits {
			seen++
			if login := commit.GetAuthor().GetLogin(); login != "" {
				authors = append(authors, domain.CommitAuthor{
					Login:       login,
					CommittedAt: commit.GetCommit().GetAuthor().GetDate().Time,
				})
			}
			if max > 0 && seen >= max {
				c.logger.Debug("commit enumeration capped",
					zap.String("repository", owner+"/"+repo),
					zap.Int("max_commits", max))
				return authors, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return authors, nil
}

// FetchSnapshot gathers everything the checker needs. The repository call runs
// first for the default branch; the remaining parts run concurrently, each
// writing its own snapshot field.
func (c *githubCollector) FetchSnapshot(ctx context.Context, owner, repo string, plan FetchPlan) (*domain.RepositorySnapshot, error) {
	info, err := c.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	fullName := info.FullName
	if fullName == "" {
		fullName = owner + "/" + repo
	}
	snap := &domain.RepositorySnapshot{
		Owner:           owner,
		Name:            repo,
		FullName:        fullName,
		DefaultBranch:   info.DefaultBranch,
		IsArchived:      info.Archived,
		IsFork:          info.Fork,
		PrimaryLanguage: info.Language,
		RequiredFiles:   plan.StandardFiles,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branches, err := c.ListBranches(gctx, owner, repo)
		snap.Branches = branches
		return err
	})
	if info.DefaultBranch != "" {
		g.Go(func() error {
			protection, err := c.GetBranchProtection(gctx, owner, repo, info.DefaultBranch)
			snap.BranchProtection = protection
			return err
		})
	}
	g.Go(func() error {
		files, err := c.FindFiles(gctx, owner, repo, plan.StandardFiles)
		snap.FilesPresent = files
		return err
	})
	g.Go(func() error {
		contributors, err := c.ListContributors(gctx, owner, repo)
		snap.Contributors = contributors
		return err
	})
	g.Go(func() error {
		workflows, err := c.ListWorkflows(gctx, owner, repo)
		snap.Workflows = workflows
		return err
	})
	if plan.Languages {
		g.Go(func() error {
			langs, err := c.ListLanguages(gctx, owner, repo)
			snap.Languages = langs
			return err
		})
	}
	if plan.CommitAuthors {
		g.Go(func() error {
			authors, err := c.ListCommitAuthors(gctx, owner, repo, plan.CommitsSince, plan.MaxCommits)
			snap.CommitAuthors = authors
			snap.CommitsFetched = err == nil
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fullName, err)
	}
	snap.FetchedAt = c.now()
	return snap, nil
}

// classify maps go-github errors onto the application error taxonomy
func classify(err error, path string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimitedError(rateErr.Message, path)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperrors.NewRateLimitedError(abuseErr.Message, path)
	}
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		status := 0
		if errResp.Response != nil {
			status = errResp.Response.StatusCode
		}
		return apperrors.NewAPIError(status, path, errResp.Message, err)
	}
	return fmt.Errorf("%s: %w", path, err)
}
