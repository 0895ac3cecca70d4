package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-compliance-audit/internal/aggregator"
	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	"github.com/kurihiro0119/github-compliance-audit/internal/storage"
	"github.com/kurihiro0119/github-compliance-audit/pkg/client"
)

var (
	showMinScore int
	showMaxScore int
	runsLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show [org] [repo]",
	Short: "Show stored audit results",
	Long: `Display the latest stored audit result of every repository in an
organization, or the individual checks of one repository.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runShow,
}

var runsCmd = &cobra.Command{
	Use:   "runs [org]",
	Short: "Show recent audit runs",
	Long:  `Display the summaries of the most recent audit runs of an organization.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

func init() {
	showCmd.Flags().IntVar(&showMinScore, "min-score", 0, "only show results scoring at least this")
	showCmd.Flags().IntVar(&showMaxScore, "max-score", 100, "only show results scoring at most this")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
}

// reader is the read side shared by local storage and the API client
type reader interface {
	results(org string, query storage.ResultQuery) ([]*storage.StoredResult, error)
	result(org, repo string) (*storage.StoredResult, error)
	runs(org string, limit int) ([]*domain.RunSummary, error)
	close() error
}

type localReader struct {
	store storage.Storage
	agg   aggregator.Aggregator
}

func (r *localReader) results(org string, q storage.ResultQuery) ([]*storage.StoredResult, error) {
	return r.agg.GetAuditResults(context.Background(), org, q)
}

func (r *localReader) result(org, repo string) (*storage.StoredResult, error) {
	return r.agg.GetAuditResult(context.Background(), org, repo)
}

func (r *localReader) runs(org string, limit int) ([]*domain.RunSummary, error) {
	return r.agg.GetRuns(context.Background(), org, limit)
}

func (r *localReader) close() error { return r.store.Close() }

type remoteReader struct {
	client *client.Client
}

func (r *remoteReader) results(org string, q storage.ResultQuery) ([]*storage.StoredResult, error) {
	return r.client.GetAudits(org, q.MinScore, q.MaxScore)
}

func (r *remoteReader) result(org, repo string) (*storage.StoredResult, error) {
	return r.client.GetAudit(org, repo)
}

func (r *remoteReader) runs(org string, limit int) ([]*domain.RunSummary, error) {
	return r.client.GetRuns(org, limit)
}

func (r *remoteReader) close() error { return nil }

func openReader() (reader, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if remote {
		c := client.NewClient(cfg.APIEndpoint)
		if err := c.HealthCheck(); err != nil {
			return nil, fmt.Errorf("API server at %s is not available: %w", cfg.APIEndpoint, err)
		}
		return &remoteReader{client: c}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &localReader{store: store, agg: aggregator.NewAggregator(store)}, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	org := args[0]

	r, err := openReader()
	if err != nil {
		return err
	}
	defer r.close()

	if len(args) == 2 {
		res, err := r.result(org, args[1])
		if err != nil {
			return fmt.Errorf("failed to get audit result: %w", err)
		}
		if outputJSON {
			return printJSON(res)
		}
		renderChecks(res)
		return nil
	}

	var q storage.ResultQuery
	if cmd.Flags().Changed("min-score") {
		q.MinScore = &showMinScore
	}
	if cmd.Flags().Changed("max-score") {
		q.MaxScore = &showMaxScore
	}
	results, err := r.results(org, q)
	if err != nil {
		return fmt.Errorf("failed to get audit results: %w", err)
	}
	if outputJSON {
		return printJSON(results)
	}

	fmt.Printf("\nCompliance: %s\n\n", org)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Status", "Score", "Failed Checks", "Audited"})
	for _, sr := range results {
		res := sr.Result
		table.Append([]string{
			res.Repository,
			string(res.Status),
			scoreText(res),
			failedChecks(res),
			res.Timestamp.Format("2006-01-02 15:04"),
		})
	}
	table.Render()

	return nil
}

func renderChecks(sr *storage.StoredResult) {
	res := sr.Result
	fmt.Printf("\nCompliance: %s (score %s, run %s)\n\n", res.Repository, scoreText(res), sr.RunID)
	if res.Error != nil {
		fmt.Printf("%s: %s\n", res.Error.Code, res.Error.Message)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Check", "Passed", "Weight", "Credit", "Detail"})
	for _, c := range res.Checks {
		table.Append([]string{
			c.ID,
			strconv.FormatBool(c.Passed),
			strconv.FormatFloat(c.Weight, 'f', -1, 64),
			strconv.FormatFloat(c.Credit, 'f', 2, 64),
			c.Detail,
		})
	}
	table.Render()
}

func runRuns(cmd *cobra.Command, args []string) error {
	org := args[0]

	r, err := openReader()
	if err != nil {
		return err
	}
	defer r.close()

	runs, err := r.runs(org, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to get runs: %w", err)
	}
	if outputJSON {
		return printJSON(runs)
	}

	fmt.Printf("\nAudit runs: %s\n\n", org)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Started", "Duration", "Requested", "Done", "Failed", "Timed Out", "Average", "Median"})
	for _, run := range runs {
		table.Append([]string{
			run.RunID,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
			strconv.Itoa(run.Requested),
			strconv.Itoa(run.Succeeded),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.TimedOut),
			fmt.Sprintf("%.1f", run.AverageScore),
			fmt.Sprintf("%.1f", run.MedianScore),
		})
	}
	table.Render()

	return nil
}

func scoreText(res *domain.AuditResult) string {
	if !res.Scored() {
		return "-"
	}
	return strconv.Itoa(*res.Score)
}

func failedChecks(res *domain.AuditResult) string {
	if res.Error != nil {
		return res.Error.Code
	}
	var failed []string
	for _, c := range res.Checks {
		if !c.Passed {
			failed = append(failed, c.ID)
		}
	}
	return strings.Join(failed, ", ")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
