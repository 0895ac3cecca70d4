// Package githubapi builds go-github clients pointed at github.com or an Enterprise host.
package githubapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v55/github"
)

// NewClient returns a go-github client using httpClient. An empty baseURL keeps
// the public API; anything else replaces both the REST and upload endpoints.
func NewClient(httpClient *http.Client, baseURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if baseURL == "" {
		return client, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub API URL: %w", err)
	}
	client.BaseURL = u
	client.UploadURL = u
	return client, nil
}
