package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
)

// Client is the API client for github-compliance-audit
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAudits retrieves the latest audit result of every repository.
// Nil bounds are not sent.
func (c *Client) GetAudits(org string, minScore, maxScore *int) ([]*storage.StoredResult, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/audits", url.PathEscape(org))
	params := url.Values{}
	if minScore != nil {
		params.Set("min_score", strconv.Itoa(*minScore))
	}
	if maxScore != nil {
		params.Set("max_score", strconv.Itoa(*maxScore))
	}

	var response struct {
		Data []*storage.StoredResult `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetAudit retrieves the latest audit result of one repository
func (c *Client) GetAudit(org, repo string) (*storage.StoredResult, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/audits/%s", url.PathEscape(org), url.PathEscape(repo))

	var response struct {
		Data *storage.StoredResult `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRuns retrieves recent audit runs
func (c *Client) GetRuns(org string, limit int) ([]*domain.RunSummary, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/runs", url.PathEscape(org))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.RunSummary `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSummary retrieves aggregate compliance of an organization
func (c *Client) GetSummary(org string) (*domain.OrgSummary, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/summary", url.PathEscape(org))

	var response struct {
		Data *domain.OrgSummary `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
