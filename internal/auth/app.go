package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/githubapi"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
)

// RefreshMargin is how long before expiry an installation token is replaced.
const RefreshMargin = 5 * time.Minute

// AppOptions configures an AppInstallation provider
type AppOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// AppInstallation mints short-lived installation tokens from a GitHub App key.
// Concurrent callers that find the token expired share a single mint.
type AppInstallation struct {
	appID        int64
	organization string
	key          *rsa.PrivateKey
	baseURL      string
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	mu             sync.Mutex
	installationID int64
	cached         domain.Credential

	group singleflight.Group
}

// NewAppInstallation creates a provider. installationID may be 0, in which case
// the installation is discovered from the organization on first mint.
func NewAppInstallation(appID, installationID int64, organization string, key *rsa.PrivateKey, opts AppOptions) (*AppInstallation, error) {
	if appID <= 0 {
		return nil, apperrors.NewConfigError("GITHUB_APP_ID", "must be positive")
	}
	if key == nil {
		return nil, apperrors.NewConfigError("GITHUB_APP_PRIVATE_KEY", "is required")
	}
	if installationID == 0 && organization == "" {
		return nil, apperrors.NewConfigError("GITHUB_APP_INSTALLATION_ID", "required when no organization is configured")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &AppInstallation{
		appID:          appID,
		organization:   organization,
		key:            key,
		baseURL:        opts.BaseURL,
		httpClient:     httpClient,
		logger:         logging.OrNop(opts.Logger),
		now:            now,
		installationID: installationID,
	}, nil
}

// Credential returns the cached installation token, minting a new one when it
// is missing or within RefreshMargin of expiry.
func (a *AppInstallation) Credential(ctx context.Context) (domain.Credential, error) {
	if cred, ok := a.valid(); ok {
		return cred, nil
	}

	v, err, _ := a.group.Do("mint", func() (interface{}, error) {
		if cred, ok := a.valid(); ok {
			return cred, nil
		}
		cred, err := a.mint(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.cached = cred
		a.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return v.(domain.Credential), nil
}

// Invalidate drops the cached token so the next caller mints a fresh one.
func (a *AppInstallation) Invalidate() {
	a.mu.Lock()
	a.cached = domain.Credential{}
	a.mu.Unlock()
}

func (a *AppInstallation) valid() (domain.Credential, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached.ValidFor(a.now(), RefreshMargin) {
		return a.cached, true
	}
	return domain.Credential{}, false
}

func (a *AppInstallation) mint(ctx context.Context) (domain.Credential, error) {
	jwt, err := signJWT(a.appID, a.key, a.now())
	if err != nil {
		return domain.Credential{}, apperrors.NewAuthError("sign app JWT", err)
	}
	client, err := a.appClient(jwt)
	if err != nil {
		return domain.Credential{}, apperrors.NewAuthError("create app client", err)
	}

	installationID, err := a.resolveInstallation(ctx, client)
	if err != nil {
		return domain.Credential{}, err
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return domain.Credential{}, apperrors.NewAuthError(fmt.Sprintf("create installation token for installation %d", installationID), err)
	}
	if token.GetToken() == "" {
		return domain.Credential{}, apperrors.NewAuthError("installation token response was empty", nil)
	}

	expiresAt := token.GetExpiresAt().Time
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(time.Hour)
	}
	a.logger.Debug("minted installation token",
		zap.Int64("installation_id", installationID),
		zap.Time("expires_at", expiresAt))

	return domain.Credential{
		Kind:      domain.CredentialKindAppInstallation,
		Token:     token.GetToken(),
		ExpiresAt: &expiresAt,
	}, nil
}

func (a *AppInstallation) resolveInstallation(ctx context.Context, client *github.Client) (int64, error) {
	a.mu.Lock()
	id := a.installationID
	a.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		installations, resp, err := client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return 0, apperrors.NewAuthError("list app installations", err)
		}
		for _, inst := range installations {
			if strings.EqualFold(inst.GetAccount().GetLogin(), a.organization) {
				a.mu.Lock()
				a.installationID = inst.GetID()
				a.mu.Unlock()
				a.logger.Info("discovered app installation",
					zap.String("organization", a.organization),
					zap.Int64("installation_id", inst.GetID()))
				return inst.GetID(), nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return 0, apperrors.NewAuthError(fmt.Sprintf("no app installation found for organization %s", a.organization), nil)
}

// appClient authenticates as the App itself using the signed JWT.
func (a *AppInstallation) appClient(jwt string) (*github.Client, error) {
	httpClient := &http.Client{
		Timeout: a.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: jwt, TokenType: "Bearer"}),
			Base:   a.httpClient.Transport,
		},
	}
	return githubapi.NewClient(httpClient, a.baseURL)
}
