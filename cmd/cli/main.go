package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage/postgres"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage/sqlite"
)

// Exit codes
const (
	exitFailure     = 1
	exitConfigError = 2
	exitAuthError   = 3
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool
)

var rootCmd = &cobra.Command{
	Use:   "compliance-audit",
	Short: "GitHub repository compliance audit",
	Long: `A CLI tool for auditing the repositories of a GitHub organization against
a compliance policy.

Each repository is scored on its default branch, branch protection, branch
naming, standard files, CI deployment pattern and stale branches. Results are
written as a JSON report and mirrored to SQLite or PostgreSQL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "audit policy file (default is compliance.yaml when present)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	showCmd.PersistentFlags().BoolVar(&remote, "remote", false, "read from the API server at API_ENDPOINT instead of local storage")
	runsCmd.Flags().BoolVar(&remote, "remote", false, "read from the API server at API_ENDPOINT instead of local storage")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps fatal errors to the process exit status
func exitCode(err error) int {
	switch {
	case apperrors.IsConfig(err):
		return exitConfigError
	case apperrors.IsAuth(err):
		return exitAuthError
	default:
		return exitFailure
	}
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Level(cfg.LogLevel), logging.Format(cfg.LogFormat))
	if err != nil {
		return nil, apperrors.NewConfigError("LOG_LEVEL", err.Error())
	}
	return logger, nil
}
