package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-compliance-audit/internal/aggregator"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
)

const defaultRunsLimit = 20

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(agg aggregator.Aggregator) *Handler {
	return &Handler{
		aggregator: agg,
	}
}

// GetAudits returns the latest audit result of every repository
// GET /api/v1/orgs/:org/audits?min_score=&max_score=
func (h *Handler) GetAudits(c *gin.Context) {
	org := c.Param("org")

	query, err := parseScoreQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := h.aggregator.GetAuditResults(c.Request.Context(), org, query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": results,
	})
}

// GetAudit returns the latest audit result of one repository
// GET /api/v1/orgs/:org/audits/:repo
func (h *Handler) GetAudit(c *gin.Context) {
	org := c.Param("org")
	repo := c.Param("repo")

	result, err := h.aggregator.GetAuditResult(c.Request.Context(), org, repo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// GetRuns returns recent audit runs
// GET /api/v1/orgs/:org/runs?limit=
func (h *Handler) GetRuns(c *gin.Context) {
	org := c.Param("org")
	limit := parseIntQuery(c, "limit", defaultRunsLimit)

	runs, err := h.aggregator.GetRuns(c.Request.Context(), org, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetSummary returns aggregate compliance of an organization
// GET /api/v1/orgs/:org/summary
func (h *Handler) GetSummary(c *gin.Context) {
	org := c.Param("org")

	summary, err := h.aggregator.GetOrgSummary(c.Request.Context(), org)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func parseScoreQuery(c *gin.Context) (storage.ResultQuery, error) {
	var q storage.ResultQuery
	var err error
	if q.MinScore, err = parseScore(c, "min_score"); err != nil {
		return q, err
	}
	if q.MaxScore, err = parseScore(c, "max_score"); err != nil {
		return q, err
	}
	if q.MinScore != nil && q.MaxScore != nil && *q.MinScore > *q.MaxScore {
		return q, apperrors.NewBadRequestError("min_score must not exceed max_score")
	}
	return q, nil
}

func parseScore(c *gin.Context, key string) (*int, error) {
	valueStr := c.Query(key)
	if valueStr == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 || value > 100 {
		return nil, apperrors.NewBadRequestError(key + " must be an integer between 0 and 100")
	}
	return &value, nil
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
