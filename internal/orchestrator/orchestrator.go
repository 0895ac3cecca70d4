// Package orchestrator runs the audit across many repositories within time and rate budgets.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-compliance-audit/internal/checker"
	"github.com/kurihiro0119/github-compliance-audit/internal/collector"
	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
)

// Sink receives emitted results. storage.Storage satisfies it.
type Sink interface {
	SaveAuditResult(ctx context.Context, runID string, result *domain.AuditResult) error
}

// Orchestrator drives one audit run. cfg is read-only for the run's duration.
type Orchestrator struct {
	collector collector.Collector
	checker   *checker.Checker
	cfg       *config.AuditConfig
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an Orchestrator. cfg must already be validated.
func New(col collector.Collector, chk *checker.Checker, cfg *config.AuditConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		collector: col,
		checker:   chk,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// PlanFetch computes the minimal fetch plan for a property filter. Commit
// enumeration happens only for the contributor properties and the languages
// call only for primary_language.
func PlanFetch(cfg *config.AuditConfig, now time.Time) collector.FetchPlan {
	f := cfg.PropertyFilter
	plan := collector.FetchPlan{
		Languages:     f.Includes(domain.PropertyPrimaryLanguage),
		StandardFiles: cfg.StandardFiles,
	}
	wantCount := f.Includes(domain.PropertyContributorsCount)
	wantPrimary := f.Includes(domain.PropertyPrimaryContributor)
	if !wantCount && !wantPrimary {
		return plan
	}

	// One enumeration covers both windows; primary falls back to the wider one.
	windowDays := max(cfg.PrimaryContributorWindowDays, cfg.ContributorWindowDays)
	plan.CommitAuthors = true
	plan.CommitsSince = now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	plan.MaxCommits = cfg.MaxCommits
	return plan
}

// ListTargets resolves the repositories to audit: the single named one, or
// every repository in the organization. A single name may carry the owner,
// which must be the audited organization.
func (o *Orchestrator) ListTargets(ctx context.Context, single string) ([]string, error) {
	if single != "" {
		name := single
		if owner, repo, ok := strings.Cut(single, "/"); ok {
			if !strings.EqualFold(owner, o.cfg.Organization) {
				return nil, apperrors.NewConfigError("repo", fmt.Sprintf("%q is not in organization %q", single, o.cfg.Organization))
			}
			name = repo
		}
		if name == "" || strings.Contains(name, "/") {
			return nil, apperrors.NewConfigError("repo", fmt.Sprintf("invalid repository name %q", single))
		}
		return []string{name}, nil
	}
	names, err := o.collector.ListRepositories(ctx, o.cfg.Organization)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return names, nil
}

// Run audits every named repository with a bounded worker pool. Exactly one
// result is produced per distinct name. Per-repository failures are recorded
// in the results; only an auth failure aborts the run and is returned.
func (o *Orchestrator) Run(ctx context.Context, names []string) (*domain.AuditRun, error) {
	run := &domain.AuditRun{
		ID:           uuid.New().String(),
		Organization: o.cfg.Organization,
		StartedAt:    o.now(),
	}

	names = dedupe(names)
	results := make([]*domain.AuditResult, len(names))
	plan := PlanFetch(o.cfg, run.StartedAt)

	o.logger.Info("audit started",
		zap.String("run_id", run.ID),
		zap.String("organization", o.cfg.Organization),
		zap.Int("repositories", len(names)),
		zap.Int("workers", o.cfg.Workers),
		zap.Bool("commit_enumeration", plan.CommitAuthors))

	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			res, err := o.auditRepository(gctx, name, plan)
			if err != nil {
				return err
			}
			results[i] = res
			o.logProgress(res, int(done.Add(1)), len(names))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audit interrupted: %w", err)
	}

	run.Results = results
	run.Emitted = o.applyScoreFilter(results)
	run.FinishedAt = o.now()

	o.logger.Info("audit finished",
		zap.String("run_id", run.ID),
		zap.Int("results", len(run.Results)),
		zap.Int("emitted", len(run.Emitted)),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return run, nil
}

// auditRepository runs Fetching then Checking under the per-repository
// deadline. The returned error is non-nil only for fatal conditions.
func (o *Orchestrator) auditRepository(ctx context.Context, name string, plan collector.FetchPlan) (*domain.AuditResult, error) {
	fullName := o.cfg.Organization + "/" + name
	repoCtx, cancel := context.WithTimeout(ctx, o.cfg.RepoTimeout)
	defer cancel()

	if _, err := o.collector.RefreshRateLimit(repoCtx); err != nil {
		if apperrors.IsAuth(err) {
			return nil, err
		}
		o.logger.Debug("rate limit refresh failed", zap.String("repository", fullName), zap.Error(err))
	}

	snap, err := o.collector.FetchSnapshot(repoCtx, o.cfg.Organization, name, plan)
	if err != nil {
		if apperrors.IsAuth(err) {
			return nil, err
		}
		return o.failedResult(ctx, repoCtx, fullName, err), nil
	}
	if snap.FullName == "" {
		snap.FullName = fullName
	}
	return o.checker.Evaluate(snap), nil
}

func (o *Orchestrator) failedResult(parent, repoCtx context.Context, fullName string, err error) *domain.AuditResult {
	res := &domain.AuditResult{
		Repository: fullName,
		Timestamp:  o.now(),
	}
	switch {
	case errors.Is(repoCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		res.Status = domain.AuditStatusTimedOut
		res.Error = &domain.AuditError{
			Code:    string(apperrors.ErrCodeTimeout),
			Message: fmt.Sprintf("audit exceeded %s", o.cfg.RepoTimeout),
		}
	default:
		res.Status = domain.AuditStatusFailed
		res.Error = &domain.AuditError{
			Code:    string(apperrors.CodeOf(err)),
			Message: err.Error(),
		}
	}
	return res
}

// applyScoreFilter keeps scored results within bounds. Unscored results are
// always kept so failures stay visible.
func (o *Orchestrator) applyScoreFilter(results []*domain.AuditResult) []*domain.AuditResult {
	emitted := make([]*domain.AuditResult, 0, len(results))
	for _, r := range results {
		if !r.Scored() || o.cfg.ScoreFilter.Allows(*r.Score) {
			emitted = append(emitted, r)
		}
	}
	return emitted
}

func (o *Orchestrator) logProgress(res *domain.AuditResult, done, total int) {
	fields := []zap.Field{
		zap.String("repository", res.Repository),
		zap.String("status", string(res.Status)),
		zap.String("progress", fmt.Sprintf("%d/%d", done, total)),
	}
	if res.Scored() {
		o.logger.Info("repository audited", append(fields, zap.Int("score", *res.Score))...)
		return
	}
	o.logger.Warn("repository audit failed", append(fields,
		zap.String("code", res.Error.Code),
		zap.String("reason", res.Error.Message))...)
}

// Publish writes every emitted result to the sink. Sink failures are logged
// and counted; they never change the results.
func (o *Orchestrator) Publish(ctx context.Context, sink Sink, run *domain.AuditRun) (written, failed int) {
	for _, res := range run.Emitted {
		if err := sink.SaveAuditResult(ctx, run.ID, res); err != nil {
			failed++
			o.logger.Error("failed to write audit result",
				zap.String("repository", res.Repository),
				zap.Error(apperrors.NewSinkError("save audit result", err)))
			continue
		}
		written++
	}
	return written, failed
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
