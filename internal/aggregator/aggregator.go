package aggregator

import (
	"context"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
)

// Aggregator defines the interface for summarizing audits
type Aggregator interface {
	// Summarize digests a finished run
	Summarize(run *domain.AuditRun) *domain.RunSummary

	// GetAuditResults retrieves the latest stored result of every repository
	GetAuditResults(ctx context.Context, org string, query storage.ResultQuery) ([]*storage.StoredResult, error)

	// GetAuditResult retrieves the latest stored result of one repository
	GetAuditResult(ctx context.Context, org, repo string) (*storage.StoredResult, error)

	// GetRuns retrieves recent run summaries
	GetRuns(ctx context.Context, org string, limit int) ([]*domain.RunSummary, error)

	// GetOrgSummary aggregates the stored results of an organization
	GetOrgSummary(ctx context.Context, org string) (*domain.OrgSummary, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// Summarize counts outcomes over all results and averages the scored ones
func (a *aggregator) Summarize(run *domain.AuditRun) *domain.RunSummary {
	summary := &domain.RunSummary{
		RunID:        run.ID,
		Organization: run.Organization,
		Requested:    len(run.Results),
		Emitted:      len(run.Emitted),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}

	var scores stats.Float64Data
	for _, r := range run.Results {
		switch r.Status {
		case domain.AuditStatusDone:
			summary.Succeeded++
		case domain.AuditStatusTimedOut:
			summary.TimedOut++
		default:
			summary.Failed++
		}
		if r.Scored() {
			scores = append(scores, float64(*r.Score))
		}
	}

	summary.AverageScore = round2(mean(scores))
	summary.MedianScore = round2(median(scores))
	return summary
}

// GetAuditResults retrieves the latest stored result of every repository
func (a *aggregator) GetAuditResults(ctx context.Context, org string, query storage.ResultQuery) ([]*storage.StoredResult, error) {
	return a.storage.GetAuditResults(ctx, org, query)
}

// GetAuditResult retrieves the latest stored result of one repository
func (a *aggregator) GetAuditResult(ctx context.Context, org, repo string) (*storage.StoredResult, error) {
	return a.storage.GetAuditResult(ctx, org, repo)
}

// GetRuns retrieves recent run summaries
func (a *aggregator) GetRuns(ctx context.Context, org string, limit int) ([]*domain.RunSummary, error) {
	return a.storage.GetRuns(ctx, org, limit)
}

// GetOrgSummary aggregates the stored results of an organization
func (a *aggregator) GetOrgSummary(ctx context.Context, org string) (*domain.OrgSummary, error) {
	results, err := a.storage.GetAuditResults(ctx, org, storage.ResultQuery{})
	if err != nil {
		return nil, err
	}
	runs, err := a.storage.GetRuns(ctx, org, 1)
	if err != nil {
		return nil, err
	}

	summary := &domain.OrgSummary{
		Organization:  org,
		Repositories:  len(results),
		CheckPassRate: make(map[string]float64),
	}
	if len(runs) > 0 {
		summary.LastRun = runs[0]
	}

	var scores stats.Float64Data
	passed := make(map[string]int)
	evaluated := make(map[string]int)
	for _, sr := range results {
		r := sr.Result
		if !r.Scored() {
			summary.Unscored++
			continue
		}
		scores = append(scores, float64(*r.Score))
		for _, c := range r.Checks {
			evaluated[c.ID]++
			if c.Passed {
				passed[c.ID]++
			}
		}
	}
	summary.Scored = len(scores)

	summary.AverageScore = round2(mean(scores))
	summary.MedianScore = round2(median(scores))
	if len(scores) > 0 {
		summary.MinScore, _ = stats.Min(scores)
		summary.MaxScore, _ = stats.Max(scores)
	}
	for id, n := range evaluated {
		summary.CheckPassRate[id] = round2(float64(passed[id]) / float64(n))
	}
	return summary, nil
}

// mean and median report 0 for a run with nothing scored.
func mean(data stats.Float64Data) float64 {
	if len(data) == 0 {
		return 0
	}
	m, _ := stats.Mean(data)
	return m
}

func median(data stats.Float64Data) float64 {
	if len(data) == 0 {
		return 0
	}
	m, _ := stats.Median(data)
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
