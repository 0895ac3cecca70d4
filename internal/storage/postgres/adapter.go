package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_results (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER,
		checks JSONB NOT NULL,
		properties JSONB NOT NULL,
		error_code TEXT,
		error_message TEXT,
		audited_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, repo)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_results_owner_score ON audit_results(owner, score);
	CREATE INDEX IF NOT EXISTS idx_audit_results_run ON audit_results(run_id);

	CREATE TABLE IF NOT EXISTS audit_runs (
		run_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		requested INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		timed_out INTEGER NOT NULL,
		emitted INTEGER NOT NULL,
		average_score DOUBLE PRECISION NOT NULL,
		median_score DOUBLE PRECISION NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_owner_started ON audit_runs(owner, started_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveAuditResult upserts the latest result of a repository
func (s *postgresStorage) SaveAuditResult(ctx context.Context, runID string, result *domain.AuditResult) error {
	rec, err := storage.NewRecord(runID, result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_results (owner, repo, run_id, status, score, checks, properties, error_code, error_message, audited_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
		ON CONFLICT (owner, repo) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			checks = EXCLUDED.checks,
			properties = EXCLUDED.properties,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			audited_at = EXCLUDED.audited_at,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.Owner, rec.Repo, rec.RunID, rec.Status, rec.Score,
		string(rec.Checks), string(rec.Properties),
		rec.ErrorCode, rec.ErrorMessage, rec.AuditedAt)
	return err
}

// SaveRun records a run summary
func (s *postgresStorage) SaveRun(ctx context.Context, summary *domain.RunSummary) error {
	query := `
		INSERT INTO audit_runs (run_id, owner, requested, succeeded, failed, timed_out, emitted, average_score, median_score, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			requested = EXCLUDED.requested,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			timed_out = EXCLUDED.timed_out,
			emitted = EXCLUDED.emitted,
			average_score = EXCLUDED.average_score,
			median_score = EXCLUDED.median_score,
			finished_at = EXCLUDED.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		summary.RunID, summary.Organization, summary.Requested, summary.Succeeded, summary.Failed,
		summary.TimedOut, summary.Emitted, summary.AverageScore, summary.MedianScore,
		summary.StartedAt, summary.FinishedAt)
	return err
}

const resultColumns = `owner, repo, run_id, status, score, checks, properties, error_code, error_message, audited_at`

// GetAuditResults retrieves the latest result of every repository in an organization
func (s *postgresStorage) GetAuditResults(ctx context.Context, org string, q storage.ResultQuery) ([]*storage.StoredResult, error) {
	conditions := []string{"owner = $1"}
	args := []interface{}{org}
	if q.MinScore != nil {
		args = append(args, *q.MinScore)
		conditions = append(conditions, fmt.Sprintf("score >= $%d", len(args)))
	}
	if q.MaxScore != nil {
		args = append(args, *q.MaxScore)
		conditions = append(conditions, fmt.Sprintf("score <= $%d", len(args)))
	}

	query := `SELECT ` + resultColumns + ` FROM audit_results WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY repo`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*storage.StoredResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetAuditResult retrieves the latest result of one repository
func (s *postgresStorage) GetAuditResult(ctx context.Context, org, repo string) (*storage.StoredResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM audit_results WHERE owner = $1 AND repo = $2`, org, repo)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("audit result for %s/%s", org, repo))
	}
	return res, err
}

// GetRuns retrieves the most recent runs for an organization
func (s *postgresStorage) GetRuns(ctx context.Context, org string, limit int) ([]*domain.RunSummary, error) {
	query := `
		SELECT run_id, owner, requested, succeeded, failed, timed_out, emitted, average_score, median_score, started_at, finished_at
		FROM audit_runs
		WHERE owner = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, org, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunSummary
	for rows.Next() {
		var r domain.RunSummary
		err := rows.Scan(&r.RunID, &r.Organization, &r.Requested, &r.Succeeded, &r.Failed, &r.TimedOut,
			&r.Emitted, &r.AverageScore, &r.MedianScore, &r.StartedAt, &r.FinishedAt)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row scanner) (*storage.StoredResult, error) {
	var rec storage.Record
	err := row.Scan(&rec.Owner, &rec.Repo, &rec.RunID, &rec.Status, &rec.Score, &rec.Checks, &rec.Properties,
		&rec.ErrorCode, &rec.ErrorMessage, &rec.AuditedAt)
	if err != nil {
		return nil, err
	}
	return rec.StoredResult()
}
