// Package auth supplies GitHub credentials from a personal token or a GitHub App installation.
package auth

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
)

// Provider yields a currently valid credential. Implementations are safe for concurrent use.
type Provider interface {
	Credential(ctx context.Context) (domain.Credential, error)
}

// Invalidator is implemented by providers whose credential can be forcibly refreshed.
type Invalidator interface {
	Invalidate()
}

// NewProvider selects the credential source once at startup: App credentials
// win over a personal token.
func NewProvider(cfg *config.Config, organization string, opts AppOptions) (Provider, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	if !cfg.HasAppCredentials() {
		return NewPersonalToken(cfg.GitHubToken), nil
	}

	key, err := LoadPrivateKey(cfg.GitHubAppPrivateKey)
	if err != nil {
		return nil, apperrors.NewConfigError("GITHUB_APP_PRIVATE_KEY", err.Error())
	}
	if opts.BaseURL == "" {
		opts.BaseURL = cfg.GitHubAPIURL
	}
	app, err := NewAppInstallation(cfg.GitHubAppID, cfg.GitHubAppInstallationID, organization, key, opts)
	if err != nil {
		return nil, fmt.Errorf("create app installation provider: %w", err)
	}
	return app, nil
}

// PersonalToken returns a configured token verbatim
type PersonalToken struct {
	token string
}

// NewPersonalToken creates a provider for a long-lived token
func NewPersonalToken(token string) *PersonalToken {
	return &PersonalToken{token: token}
}

// Credential returns the configured token
func (p *PersonalToken) Credential(_ context.Context) (domain.Credential, error) {
	if p.token == "" {
		return domain.Credential{}, apperrors.NewAuthError("personal token is empty", nil)
	}
	return domain.Credential{Kind: domain.CredentialKindPersonalToken, Token: p.token}, nil
}
