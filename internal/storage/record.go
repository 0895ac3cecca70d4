package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

// StoredResult is an audit result together with the run that produced it
type StoredResult struct {
	RunID  string              `json:"run_id"`
	Result *domain.AuditResult `json:"result"`
}

// Record is the row form of an AuditResult shared by the SQL adapters
type Record struct {
	Owner        string
	Repo         string
	RunID        string
	Status       string
	Score        sql.NullInt64
	Checks       []byte
	Properties   []byte
	ErrorCode    sql.NullString
	ErrorMessage sql.NullString
	AuditedAt    time.Time
}

// NewRecord flattens a result into its row form
func NewRecord(runID string, result *domain.AuditResult) (*Record, error) {
	owner, repo, err := SplitFullName(result.Repository)
	if err != nil {
		return nil, err
	}
	checks, err := json.Marshal(result.Checks)
	if err != nil {
		return nil, fmt.Errorf("encode checks: %w", err)
	}
	props, err := json.Marshal(result.Properties)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}

	rec := &Record{
		Owner:      owner,
		Repo:       repo,
		RunID:      runID,
		Status:     string(result.Status),
		Checks:     checks,
		Properties: props,
		AuditedAt:  result.Timestamp.UTC(),
	}
	if result.Score != nil {
		rec.Score = sql.NullInt64{Int64: int64(*result.Score), Valid: true}
	}
	if result.Error != nil {
		rec.ErrorCode = sql.NullString{String: result.Error.Code, Valid: true}
		rec.ErrorMessage = sql.NullString{String: result.Error.Message, Valid: true}
	}
	return rec, nil
}

// StoredResult rebuilds the result the row was written from
func (r *Record) StoredResult() (*StoredResult, error) {
	res := &domain.AuditResult{
		Repository: r.Owner + "/" + r.Repo,
		Status:     domain.AuditStatus(r.Status),
		Timestamp:  r.AuditedAt,
	}
	if r.Score.Valid {
		score := int(r.Score.Int64)
		res.Score = &score
	}
	if len(r.Checks) > 0 {
		if err := json.Unmarshal(r.Checks, &res.Checks); err != nil {
			return nil, fmt.Errorf("decode checks of %s: %w", res.Repository, err)
		}
	}
	if len(r.Properties) > 0 {
		if err := json.Unmarshal(r.Properties, &res.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of %s: %w", res.Repository, err)
		}
	}
	if r.ErrorCode.Valid {
		res.Error = &domain.AuditError{Code: r.ErrorCode.String, Message: r.ErrorMessage.String}
	}
	return &StoredResult{RunID: r.RunID, Result: res}, nil
}

// SplitFullName splits "owner/repo"
func SplitFullName(fullName string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/name form", fullName)
	}
	return owner, repo, nil
}
