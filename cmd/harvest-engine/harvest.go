// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/harvest-engine/internal/backoff"
	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/internal/ratelimit"
	"github.com/pdiddy/harvest-engine/internal/sources"
	"github.com/pdiddy/harvest-engine/internal/store"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultUserAgent   = "harvest-engine/0.1"
	defaultTarget      = 200
	defaultMinInterval = 1 * time.Second
)

// defaultSources are harvested when --sources is not given. Google Scholar
// is opt-in: it scrapes result pages rather than an API.
const defaultSources = "arxiv,semantic-scholar,openalex"

var harvestCmd = &cobra.Command{
	Use:   "harvest [query terms...]",
	Short: "Collect paper metadata from the enabled sources",
	Long: `Harvest runs one collection pass: it queries every enabled source in
parallel, pages through results with retry and per-source pacing, merges
records with cross-source deduplication, and stores the run in the local
index. A run that falls short of the target is reported, not failed; the
run errors only when nothing was collected and at least one source was
abandoned.`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().String("sources", defaultSources, "comma-separated sources: arxiv, semantic-scholar, openalex, scholar")
	harvestCmd.Flags().Int("target", defaultTarget, "total unique records to collect across all sources")
	harvestCmd.Flags().Int("parallelism", 0, "worker pool size (default 4)")
	harvestCmd.Flags().Int("max-retries", 0, "transient-error retries per page (default 5)")
	harvestCmd.Flags().Duration("base-delay", 0, "first backoff delay (default 2s)")
	harvestCmd.Flags().Duration("max-delay", 0, "backoff delay cap (default 60s)")
	harvestCmd.Flags().Int("page-size", 0, "page size for offset-mode sources (default 100)")
	harvestCmd.Flags().Duration("min-interval", defaultMinInterval, "minimum spacing between requests to the same source")
	harvestCmd.Flags().Int("max-concurrent", 0, "in-flight request cap per source (0 = worker pool only)")
	harvestCmd.Flags().Int("from-year", 0, "partition arXiv by year starting here (requires --to-year)")
	harvestCmd.Flags().Int("to-year", 0, "last year of the arXiv partition range")
	harvestCmd.Flags().Duration("timeout", defaultTimeout, "HTTP request timeout")
	harvestCmd.Flags().String("data-dir", "data", "base directory for the index and manifests")
	harvestCmd.Flags().String("semantic-scholar-api-key", "", "Semantic Scholar API key (default: .secrets/semantic-scholar-api-key)")
	harvestCmd.Flags().String("openalex-email", "", "contact email for the OpenAlex polite pool (default: .secrets/openalex-email)")

	// Flag set > config file > flag default.
	for key, name := range map[string]string{
		"harvest.sources":        "sources",
		"harvest.target_count":   "target",
		"harvest.parallelism":    "parallelism",
		"harvest.max_retries":    "max-retries",
		"harvest.base_delay":     "base-delay",
		"harvest.max_delay":      "max-delay",
		"harvest.page_size":      "page-size",
		"harvest.min_interval":   "min-interval",
		"harvest.max_concurrent": "max-concurrent",
		"harvest.from_year":      "from-year",
		"harvest.to_year":        "to-year",
		"harvest.timeout":        "timeout",
		"store.data_dir":         "data-dir",
	} {
		cobra.CheckErr(viper.BindPFlag(key, harvestCmd.Flags().Lookup(name)))
	}

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("provide search terms, e.g.: harvest-engine harvest deep learning compilers")
	}

	cfg, err := harvestConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: cfg.Timeout}
	jobs, err := sources.BuildJobs(client, query, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := harvest.NewCounterSink()
	sched := harvest.New(harvest.Options{
		Parallelism: cfg.Parallelism,
		MaxRetries:  cfg.MaxRetries,
		TargetTotal: cfg.TargetCount,
		Backoff:     backoff.Policy{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		Limiter:     ratelimit.New(cfg.MinRequestInterval, cfg.MaxConcurrentRequests),
		Metrics:     metrics,
		Progress:    os.Stderr,
	})

	report, err := sched.Run(ctx, jobs)
	if err != nil {
		return err
	}

	st, err := store.New(types.StoreConfig{DataDir: viper.GetString("store.data_dir")})
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.SaveRun(report, query)
	if err != nil {
		return err
	}
	manifestPath, err := st.WriteManifest(report, query)
	if err != nil {
		return err
	}

	printHarvestSummary(report, stored, manifestPath)
	return nil
}

func harvestConfigFromFlags(cmd *cobra.Command) (types.HarvestConfig, error) {
	timeout := viper.GetDuration("harvest.timeout")
	target := viper.GetInt("harvest.target_count")
	parallelism := viper.GetInt("harvest.parallelism")
	maxRetries := viper.GetInt("harvest.max_retries")
	baseDelay := viper.GetDuration("harvest.base_delay")
	maxDelay := viper.GetDuration("harvest.max_delay")
	pageSize := viper.GetInt("harvest.page_size")
	minInterval := viper.GetDuration("harvest.min_interval")
	maxConcurrent := viper.GetInt("harvest.max_concurrent")
	fromYear := viper.GetInt("harvest.from_year")
	toYear := viper.GetInt("harvest.to_year")
	sourceList := viper.GetString("harvest.sources")
	apiKey, _ := cmd.Flags().GetString("semantic-scholar-api-key")
	email, _ := cmd.Flags().GetString("openalex-email")

	if (fromYear == 0) != (toYear == 0) {
		return types.HarvestConfig{}, fmt.Errorf("--from-year and --to-year must be given together")
	}
	if fromYear > toYear {
		return types.HarvestConfig{}, fmt.Errorf("--from-year %d is after --to-year %d", fromYear, toYear)
	}

	cfg := types.HarvestConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		TargetCount:           target,
		Parallelism:           parallelism,
		MaxRetries:            maxRetries,
		BaseDelay:             baseDelay,
		MaxDelay:              maxDelay,
		PageSize:              pageSize,
		MinRequestInterval:    minInterval,
		MaxConcurrentRequests: maxConcurrent,
		YearFrom:              fromYear,
		YearTo:                toYear,
		SemanticScholarAPIKey: secretDefault("semantic-scholar-api-key", apiKey),
		OpenAlexEmail:         secretDefault("openalex-email", email),
	}

	for _, name := range strings.Split(sourceList, ",") {
		switch strings.TrimSpace(name) {
		case "arxiv":
			cfg.EnableArxiv = true
		case "semantic-scholar":
			cfg.EnableSemanticScholar = true
		case "openalex":
			cfg.EnableOpenAlex = true
		case "scholar":
			cfg.EnableScholar = true
		case "":
		default:
			return types.HarvestConfig{}, fmt.Errorf("unknown source %q (valid: arxiv, semantic-scholar, openalex, scholar)", name)
		}
	}
	return cfg, nil
}

func printHarvestSummary(report harvest.Report, stored int, manifestPath string) {
	fmt.Printf("Run %s: %d unique record(s), %d new in index (%d duplicate(s) removed)\n",
		report.RunID, len(report.Records), stored, report.DupsRemoved)
	if report.Shortfall > 0 {
		fmt.Printf("Short of target by %d (target %d)\n", report.Shortfall, report.Target)
	}
	for _, j := range report.Jobs {
		line := fmt.Sprintf("  %-24s %-10s %3d page(s) %4d added", j.Name, j.StateStr, j.Pages, j.Added)
		if j.Err != "" {
			line += "  " + j.Err
		}
		fmt.Println(line)
	}
	fmt.Println("Manifest:", manifestPath)
}
