package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit [org]",
	Short: "Show the remaining GitHub API budget",
	Long: `Display the core rate limit of the configured credential. With GitHub App
credentials the organization selects the installation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRateLimit,
}

func runRateLimit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	auditCfg, err := config.LoadAuditConfig(cfgFile)
	if err != nil {
		return err
	}
	org := auditCfg.Organization
	if len(args) == 1 {
		org = args[0]
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	coll, err := newCollector(ctx, cfg, org, logger)
	if err != nil {
		return err
	}
	budget, err := coll.RefreshRateLimit(ctx)
	if err != nil {
		return fmt.Errorf("failed to get rate limit: %w", err)
	}

	if outputJSON {
		return printJSON(budget)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Limit", strconv.Itoa(budget.Limit)})
	table.Append([]string{"Remaining", strconv.Itoa(budget.Remaining)})
	table.Append([]string{"Resets At", budget.ResetAt.Local().Format(time.RFC3339)})
	table.Append([]string{"Resets In", time.Until(budget.ResetAt).Round(time.Second).String()})
	table.Render()

	return nil
}
