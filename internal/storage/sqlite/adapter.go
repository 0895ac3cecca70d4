package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_results (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER,
		checks TEXT NOT NULL,
		properties TEXT NOT NULL,
		error_code TEXT,
		error_message TEXT,
		audited_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
		average_score REAL NOT NULL,
		median_score REAL NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_owner_started ON audit_runs(owner, started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveAuditResult upserts the latest result of a repository
func (s *sqliteStorage) SaveAuditResult(ctx context.Context, runID string, result *domain.AuditResult) error {
	rec, err := storage.NewRecord(runID, result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_results (owner, repo, run_id, status, score, checks, properties, error_code, error_message, audited_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (owner, repo) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			score = excluded.score,
			checks = excluded.checks,
			properties = excluded.properties,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			audited_at = excluded.audited_at,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.Owner,
		rec.Repo,
		rec.RunID,
		rec.Status,
		rec.Score,
		string(rec.Checks),
		string(rec.Properties),
		rec.ErrorCode,
		rec.ErrorMessage,
		rec.AuditedAt,
	)
	return err
}

// SaveRun records a run summary
func (s *sqliteStorage) SaveRun(ctx context.Context, summary *domain.RunSummary) error {
	query := `
		INSERT OR REPLACE INTO audit_runs (run_id, owner, requested, succeeded, failed, timed_out, emitted, average_score, median_score, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		summary.RunID,
		summary.Organization,
		summary.Requested,
		summary.Succeeded,
		summary.Failed,
		summary.TimedOut,
		summary.Emitted,
		summary.AverageScore,
		summary.MedianScore,
		summary.StartedAt.UTC(),
		summary.FinishedAt.UTC(),
	)
	return err
}

const resultColumns = `owner, repo, run_id, status, score, checks, properties, error_code, error_message, audited_at`

// GetAuditResults retrieves the latest result of every repository in an organization
func (s *sqliteStorage) GetAuditResults(ctx context.Context, org string, q storage.ResultQuery) ([]*storage.StoredResult, error) {
	conditions := []string{"owner = ?"}
	args := []interface{}{org}
	if q.MinScore != nil {
		conditions = append(conditions, "score >= ?")
		args = append(args, *q.MinScore)
	}
	if q.MaxScore != nil {
		conditions = append(conditions, "score <= ?")
		args = append(args, *q.MaxScore)
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
func (s *sqliteStorage) GetAuditResult(ctx context.Context, org, repo string) (*storage.StoredResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM audit_results WHERE owner = ? AND repo = ?`, org, repo)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("audit result for %s/%s", org, repo))
	}
	return res, err
}

// GetRuns retrieves the most recent runs for an organization
func (s *sqliteStorage) GetRuns(ctx context.Context, org string, limit int) ([]*domain.RunSummary, error) {
	query := `
		SELECT run_id, owner, requested, succeeded, failed, timed_out, emitted, average_score, median_score, started_at, finished_at
		FROM audit_runs
		WHERE owner = ?
		ORDER BY started_at DESC
		LIMIT ?
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row scanner) (*storage.StoredResult, error) {
	var rec storage.Record
	var checks, props string
	err := row.Scan(&rec.Owner, &rec.Repo, &rec.RunID, &rec.Status, &rec.Score, &checks, &props,
		&rec.ErrorCode, &rec.ErrorMessage, &rec.AuditedAt)
	if err != nil {
		return nil, err
	}
	rec.Checks = []byte(checks)
	rec.Properties = []byte(props)
	return rec.StoredResult()
}
