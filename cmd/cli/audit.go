package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-compliance-audit/internal/aggregator"
	"github.com/kurihiro0119/github-compliance-audit/internal/auth"
	"github.com/kurihiro0119/github-compliance-audit/internal/checker"
	"github.com/kurihiro0119/github-compliance-audit/internal/collector"
	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/orchestrator"
)

// auditOptions holds the audit flags. Flags override the policy file only when set.
type auditOptions struct {
	repo              string
	output            string
	dryRun            bool
	workers           int
	includeProperties []string
	excludeProperties []string
	minScore          int
	maxScore          int
	windowDays        int
	primaryWindowDays int
	timeout           time.Duration
}

var auditOpts auditOptions

var auditCmd = &cobra.Command{
	Use:   "audit [org]",
	Short: "Audit repositories",
	Long: `Audit every repository of an organization, or a single one with --repo.

The organization defaults to the one named in the policy file. The JSON report
is written to --output, or to stdout when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func init() {
	f := auditCmd.Flags()
	f.StringVar(&auditOpts.repo, "repo", "", "audit a single repository")
	f.StringVarP(&auditOpts.output, "output", "o", "", "report file path (default stdout)")
	f.BoolVar(&auditOpts.dryRun, "dry-run", false, "skip writing results to storage")
	f.IntVar(&auditOpts.workers, "workers", 0, "number of repositories audited concurrently")
	f.StringSliceVar(&auditOpts.includeProperties, "include-properties", nil, "only compute these properties")
	f.StringSliceVar(&auditOpts.excludeProperties, "exclude-properties", nil, "never compute these properties")
	f.IntVar(&auditOpts.minScore, "min-score", 0, "only emit results scoring at least this")
	f.IntVar(&auditOpts.maxScore, "max-score", 100, "only emit results scoring at most this")
	f.IntVar(&auditOpts.windowDays, "contributor-window-days", 0, "window for contributors_count")
	f.IntVar(&auditOpts.primaryWindowDays, "primary-contributor-window-days", 0, "window for primary_contributor")
	f.DurationVar(&auditOpts.timeout, "timeout", 0, "per-repository timeout")
}

// apply copies every flag the user set onto the policy
func (o *auditOptions) apply(flags *pflag.FlagSet, cfg *config.AuditConfig) {
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("include-properties") {
		cfg.PropertyFilter.Include = o.includeProperties
	}
	if flags.Changed("exclude-properties") {
		cfg.PropertyFilter.Exclude = o.excludeProperties
	}
	if flags.Changed("min-score") {
		v := o.minScore
		cfg.ScoreFilter.Min = &v
	}
	if flags.Changed("max-score") {
		v := o.maxScore
		cfg.ScoreFilter.Max = &v
	}
	if flags.Changed("contributor-window-days") {
		cfg.ContributorWindowDays = o.windowDays
	}
	if flags.Changed("primary-contributor-window-days") {
		cfg.PrimaryContributorWindowDays = o.primaryWindowDays
	}
	if flags.Changed("timeout") {
		cfg.RepoTimeout = o.timeout
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	auditCfg, err := config.LoadAuditConfig(cfgFile)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		auditCfg.Organization = args[0]
	}
	auditOpts.apply(cmd.Flags(), auditCfg)
	if err := auditCfg.Validate(); err != nil {
		return fmt.Errorf("invalid audit policy: %w", err)
	}

	cfg.ApplyTracking(auditCfg.Tracking)
	persist := auditCfg.Tracking.Enabled && !auditOpts.dryRun
	if persist {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coll, err := newCollector(ctx, cfg, auditCfg.Organization, logger)
	if err != nil {
		return err
	}
	if budget, err := coll.RefreshRateLimit(ctx); err != nil {
		if apperrors.IsAuth(err) {
			return err
		}
		logger.Warn("could not read rate limit", zap.Error(err))
	} else {
		logger.Info("rate limit",
			zap.Int("remaining", budget.Remaining),
			zap.Int("limit", budget.Limit),
			zap.Time("reset_at", budget.ResetAt))
	}

	chk, err := checker.New(auditCfg)
	if err != nil {
		return err
	}
	orch := orchestrator.New(coll, chk, auditCfg, logger)

	names, err := orch.ListTargets(ctx, auditOpts.repo)
	if err != nil {
		return err
	}
	run, err := orch.Run(ctx, names)
	if err != nil {
		return err
	}

	summary := aggregator.NewAggregator(nil).Summarize(run)
	if persist {
		publish(ctx, cfg, orch, run, summary, logger)
	} else {
		logger.Info("dry run, storage not written")
	}

	report := &domain.Report{
		RunID:          run.ID,
		Organization:   run.Organization,
		AuditTimestamp: run.StartedAt,
		ReposAudited:   len(run.Results),
		Summary:        *summary,
		Results:        run.Emitted,
	}
	if err := writeReport(report, auditOpts.output); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Audited %d repositories: %d done, %d failed, %d timed out; %d emitted; average score %.1f\n",
		summary.Requested, summary.Succeeded, summary.Failed, summary.TimedOut, summary.Emitted, summary.AverageScore)
	return nil
}

// publish mirrors the run to storage. Failures are logged and never fail the run.
func publish(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, run *domain.AuditRun, summary *domain.RunSummary, logger *zap.Logger) {
	store, err := getStorage(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", zap.Error(apperrors.NewSinkError("open "+cfg.StorageType, err)))
		return
	}
	defer store.Close()

	written, failed := orch.Publish(ctx, store, run)
	if err := store.SaveRun(ctx, summary); err != nil {
		logger.Error("failed to save run", zap.Error(apperrors.NewSinkError("save run", err)))
	}
	logger.Info("results stored",
		zap.String("storage", cfg.StorageType),
		zap.Int("written", written),
		zap.Int("failed", failed))
}

func writeReport(report *domain.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// newCollector wires credential provider, rate limiter and API client
func newCollector(ctx context.Context, cfg *config.Config, org string, logger *zap.Logger) (collector.Collector, error) {
	provider, err := auth.NewProvider(cfg, org, auth.AppOptions{Logger: logger})
	if err != nil {
		return nil, err
	}

	var invalidator collector.Invalidator
	if inv, ok := provider.(auth.Invalidator); ok {
		invalidator = inv
	}

	limiter := collector.NewRateLimiter(logger)
	client, err := collector.NewAPIClient(auth.TokenSource(ctx, provider), invalidator, limiter, cfg.GitHubAPIURL, logger)
	if err != nil {
		return nil, apperrors.NewConfigError("GITHUB_API_URL", err.Error())
	}
	return collector.NewGitHubCollector(client, limiter, logger), nil
}
