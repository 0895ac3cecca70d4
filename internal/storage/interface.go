package storage

import (
	"context"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

// ResultQuery narrows stored results by score. Unscored results are
// returned only when no bound is set.
type ResultQuery struct {
	MinScore *int
	MaxScore *int
}

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// SaveAuditResult upserts the latest result of one repository
	SaveAuditResult(ctx context.Context, runID string, result *domain.AuditResult) error

	// SaveRun records the summary of a finished run
	SaveRun(ctx context.Context, summary *domain.RunSummary) error

	// Result retrieval
	GetAuditResults(ctx context.Context, org string, query ResultQuery) ([]*StoredResult, error)
	GetAuditResult(ctx context.Context, org, repo string) (*StoredResult, error)

	// Run retrieval, newest first
	GetRuns(ctx context.Context, org string, limit int) ([]*domain.RunSummary, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
