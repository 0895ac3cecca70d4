package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken             string
	GitHubAppID             int64
	GitHubAppPrivateKey     string // file path, PEM text, or bare base64
	GitHubAppInstallationID int64  // 0 means discover from the organization
	GitHubAPIURL            string // empty means api.github.com

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	appID, err := getEnvInt64("GITHUB_APP_ID")
	if err != nil {
		return nil, err
	}
	installationID, err := getEnvInt64("GITHUB_APP_INSTALLATION_ID")
	if err != nil {
		return nil, err
	}

	return &Config{
		GitHubToken:             getEnv("GITHUB_TOKEN", getEnv("GH_TOKEN", "")),
		GitHubAppID:             appID,
		GitHubAppPrivateKey:     getEnv("GITHUB_APP_PRIVATE_KEY", ""),
		GitHubAppInstallationID: installationID,
		GitHubAPIURL:            getEnv("GITHUB_API_URL", ""),
		StorageType:             getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:              getEnv("SQLITE_PATH", "./compliance.db"),
		PostgresURL:             getEnv("POSTGRES_URL", ""),
		APIPort:                 getEnv("API_PORT", "8080"),
		APIHost:                 getEnv("API_HOST", "localhost"),
		APIEndpoint:             getEnv("API_ENDPOINT", "http://localhost:8080"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "console"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperrors.NewConfigError(key, "must be a positive integer")
	}
	return n, nil
}

// HasAppCredentials reports whether GitHub App credentials are configured
func (c *Config) HasAppCredentials() bool {
	return c.GitHubAppID != 0 && c.GitHubAppPrivateKey != ""
}

// Validate validates the storage configuration
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return apperrors.NewConfigError("STORAGE_TYPE", "must be 'sqlite' or 'postgres'")
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return apperrors.NewConfigError("POSTGRES_URL", "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'")
	}
	return nil
}

// ValidateCredentials checks that exactly one usable credential source is configured
func (c *Config) ValidateCredentials() error {
	if c.GitHubAppID != 0 && c.GitHubAppPrivateKey == "" {
		return apperrors.NewConfigError("GITHUB_APP_PRIVATE_KEY", "required when GITHUB_APP_ID is set")
	}
	if !c.HasAppCredentials() && c.GitHubToken == "" {
		return apperrors.NewConfigError("GITHUB_TOKEN", "a personal token or GitHub App credentials are required")
	}
	return nil
}

// ApplyTracking lets the audit policy file override the storage target
func (c *Config) ApplyTracking(t Tracking) {
	if t.StorageType != "" {
		c.StorageType = t.StorageType
	}
	if t.SQLitePath != "" {
		c.SQLitePath = t.SQLitePath
	}
	if t.PostgresURL != "" {
		c.PostgresURL = t.PostgresURL
	}
}
