package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nao1215/findsim/internal/classify"
	"github.com/nao1215/findsim/internal/config"
	"github.com/nao1215/findsim/internal/extract"
	"github.com/nao1215/findsim/internal/fetch"
	"github.com/nao1215/findsim/internal/llm"
	findsimlog "github.com/nao1215/findsim/internal/log"
	"github.com/nao1215/findsim/internal/model"
	"github.com/nao1215/findsim/internal/pipeline"
	"github.com/nao1215/findsim/internal/query"
	"github.com/nao1215/findsim/internal/report"
	"github.com/nao1215/findsim/internal/search"
	"github.com/nao1215/findsim/internal/similarity"
)

// errNoSuccess is returned when no query of any target reached a normal stop.
var errNoSuccess = errors.New("no search query succeeded")

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [url...]",
		Short: "Find hosts serving a site similar to each target",
		Long: `Scan fingerprints each target website and searches FOFA for hosts
serving the same site.

For every target it:
- fetches the page and its favicon, scripts, stylesheets and images
- extracts fingerprints (hashes, title, meta, headers, markers, paths)
- drops generic fingerprints (public libraries, CDN assets, server banners)
- compiles the rest into FOFA queries and merges the paginated results

Targets are read from the arguments, or one per line from standard input
when no argument is given. Blank lines and lines starting with '#' are
ignored.

The default output lists one result URL per line under a "# <target>"
header. The command exits with a non-zero status when no query succeeded.

Examples:
  # Scan one site
  findsim scan https://portal.example.com

  # Scan a list of sites, 3 at a time, and keep 50 hosts per query
  findsim scan -n 3 --per-query-cap 50 < targets.txt

  # Skip the language model and query every fingerprint
  findsim scan --no-analysis example.com

  # Check the 5 first results of each query against the target
  findsim scan --verify 5 example.com

  # Write a Markdown report
  findsim scan -m -o reports/example.md example.com`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	// Concurrency and limits
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Number of targets, search queries and classifier batches processed in parallel")
	cmd.Flags().Int("per-query-cap", config.DefaultPerQueryCap,
		"Maximum number of search records read per query")
	cmd.Flags().Int("global-cap", config.DefaultGlobalCap,
		"Maximum number of distinct hosts kept per target (0 = unlimited)")
	cmd.Flags().Int("max-total", config.DefaultMaxTotal,
		"Drop a query whose search engine match count reaches this value (0 = off)")
	cmd.Flags().Int("batch-size", config.DefaultBatchSize,
		"Number of fingerprints sent per classification request")
	cmd.Flags().Int("max-queries", config.DefaultMaxQueries,
		"Maximum number of search queries per target")
	cmd.Flags().Int("retries", config.DefaultMaxRetries,
		"Retries of a rate-limited or failed search page")
	cmd.Flags().Duration("backoff", config.DefaultBackoff,
		"Initial delay between search retries, doubled on each retry")

	// Network
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each HTTP request to a target")
	cmd.Flags().Duration("run-timeout", config.DefaultRunTimeout,
		"Deadline for the whole run (0 = none); results found so far are kept")
	cmd.Flags().String("proxy", "",
		"Proxy for target requests (http, https, socks5 or socks5h URL)")

	// Analysis
	cmd.Flags().Bool("no-analysis", false,
		"Skip the language model and treat every fingerprint as distinctive")
	cmd.Flags().Int("verify", 0,
		"Fetch the first N results of each query and score their similarity to the target (0 = off)")

	// Configuration
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .findsim in current, XDG config or home directory)")
	cmd.Flags().String("log-file", "",
		"Write JSON logs to a rotated file instead of stderr")

	// Report
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON reports, one per line (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown reports (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write reports to the specified file (creates directories if needed)")

	return cmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		targets, err := readTargets(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read targets: %w", err)
		}
		args = targets
	}

	cfg, err := buildConfig(cmd, args, os.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := findsimlog.Setup(cmd.ErrOrStderr(), cfg.LogFile, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runScan(ctx, cfg, cmd.OutOrStdout(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// readTargets reads one target per line. Blank lines and '#' comments are
// skipped.
func readTargets(r io.Reader) ([]string, error) {
	var targets []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, sc.Err()
}

// buildConfig layers defaults, the configuration file, the environment and
// the flags the user set, in that order.
func buildConfig(cmd *cobra.Command, args []string, getenv func(string) string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicit path must exist; a missing default file is not an error.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	config.ApplyEnv(cfg, getenv)

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"concurrency", &cfg.Concurrency},
		{"per-query-cap", &cfg.PerQueryCap},
		{"global-cap", &cfg.GlobalCap},
		{"max-total", &cfg.MaxTotal},
		{"batch-size", &cfg.BatchSize},
		{"max-queries", &cfg.MaxQueries},
		{"retries", &cfg.MaxRetries},
		{"verify", &cfg.VerifySamples},
	} {
		if err := changedInt(cmd, f.name, f.dst); err != nil {
			return nil, err
		}
	}
	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{"backoff", &cfg.Backoff},
		{"timeout", &cfg.Timeout},
		{"run-timeout", &cfg.RunTimeout},
	} {
		if err := changedDuration(cmd, f.name, f.dst); err != nil {
			return nil, err
		}
	}
	if err := changedString(cmd, "proxy", &cfg.ProxyURL); err != nil {
		return nil, err
	}

	if cfg.NoAnalysis, err = cmd.Flags().GetBool("no-analysis"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return nil, err
	}
	if cfg.LogFile, err = cmd.Flags().GetString("log-file"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Targets = args

	return cfg, nil
}

func changedInt(cmd *cobra.Command, name string, dst *int) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func changedDuration(cmd *cobra.Command, name string, dst *time.Duration) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetDuration(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func changedString(cmd *cobra.Command, name string, dst *string) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// runScan processes every target and streams its report to stdout or the
// report file. It returns errNoSuccess when no target has a successful query.
func runScan(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	factory, err := newPipelineFactory(cfg, logger)
	if err != nil {
		return err
	}

	writer, closeOutput, err := newReportWriter(cfg, stdout)
	if err != nil {
		return err
	}
	defer closeOutput()

	runID := uuid.NewString()
	logger.Info("starting scan",
		"run_id", runID,
		"targets", len(cfg.Targets),
		"concurrency", cfg.Concurrency,
		"analysis", !cfg.NoAnalysis,
		"verify", cfg.VerifySamples,
	)
	started := time.Now()

	bp := pipeline.NewBatchProcessor(factory,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithBatchLogger(logger),
		pipeline.WithRunID(runID),
	)

	var (
		mu        sync.Mutex
		succeeded int
	)
	bp.ProcessBatchWithCallback(ctx, cfg.Targets, func(r *model.Report, _ int) {
		mu.Lock()
		defer mu.Unlock()

		if r.Succeeded() {
			succeeded++
		}
		if _, err := writer.Write(r); err != nil {
			logger.Error("report failed", "target", r.Target, "error", err)
		}
	})

	logger.Info("scan completed",
		"run_id", runID,
		"targets", len(cfg.Targets),
		"succeeded", succeeded,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)

	if succeeded == 0 {
		return errNoSuccess
	}
	return nil
}

// newPipelineFactory builds the shared stage implementations once and
// returns a factory assembling a pipeline per target.
func newPipelineFactory(cfg *config.Config, logger *slog.Logger) (func() *pipeline.Pipeline, error) {
	fetcher, extractor, err := newFetcherAndExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}

	var backend classify.BatchClassifier = classify.Passthrough{}
	if !cfg.NoAnalysis {
		backend = classify.NewLLMClassifier(llm.New(cfg.LLMAPIKey,
			llm.WithBaseURL(cfg.LLMBaseURL),
			llm.WithModel(cfg.LLMModel),
			llm.WithTemperature(cfg.LLMTemperature),
			llm.WithMaxTokens(cfg.LLMMaxTokens),
			llm.WithLogger(logger),
		))
	}
	classifier := classify.New(backend,
		classify.WithBatchSize(cfg.BatchSize),
		classify.WithConcurrency(cfg.Concurrency),
		classify.WithLogger(logger),
	)

	compiler := query.New(
		query.WithFields(cfg.FieldMap),
		query.WithMaxQueries(cfg.MaxQueries),
		query.WithMinStrongLength(cfg.MinStrongLength),
		query.WithLogger(logger),
	)

	api := search.NewFOFAClient(cfg.SearchAPIKey,
		search.WithBaseURL(cfg.SearchBaseURL),
		search.WithPageSize(cfg.SearchPageSize),
		search.WithFields(cfg.SearchFields),
		search.WithRate(cfg.SearchRate),
		search.WithFOFALogger(logger),
	)
	aggregator := search.NewAggregator(api, search.WithLogger(logger))
	limits := search.Limits{
		PerQueryCap: cfg.PerQueryCap,
		GlobalCap:   cfg.GlobalCap,
		MaxTotal:    cfg.MaxTotal,
		MaxRetries:  cfg.MaxRetries,
		Backoff:     cfg.Backoff,
		MaxBackoff:  cfg.MaxBackoff,
		Concurrency: cfg.Concurrency,
	}

	var verifier *similarity.Verifier
	if cfg.VerifySamples > 0 {
		verifier = similarity.NewVerifier(fetcher,
			similarity.WithSamples(cfg.VerifySamples),
			similarity.WithThreshold(cfg.VerifyThreshold),
			similarity.WithConcurrency(cfg.Concurrency),
			similarity.WithLogger(logger),
		)
	}

	stepOpts := []pipeline.StepOption{pipeline.WithStepLogger(logger)}
	return func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(logger))
		p.AddSteps(
			pipeline.NewFetchStep(fetcher, stepOpts...),
			pipeline.NewExtractStep(extractor, stepOpts...),
			pipeline.NewClassifyStep(classifier, stepOpts...),
			pipeline.NewCompileStep(compiler, stepOpts...),
			pipeline.NewSearchStep(aggregator, limits, stepOpts...),
		)
		if verifier != nil {
			p.AddStep(pipeline.NewVerifyStep(verifier, stepOpts...))
		}
		return p
	}, nil
}

// newFetcherAndExtractor builds the first two stages, shared with compare.
func newFetcherAndExtractor(cfg *config.Config, logger *slog.Logger) (*fetch.Fetcher, *extract.Extractor, error) {
	client, err := fetch.NewHTTPClient(cfg.Timeout, cfg.ProxyURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	fetcher := fetch.New(client,
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithMaxSubResources(cfg.MaxSubResources),
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithLogger(logger),
	)

	markers := make([]extract.Marker, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		marker, err := extract.NewMarker(m.Name, m.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid marker %q: %w", m.Name, err)
		}
		markers = append(markers, marker)
	}
	extractor := extract.New(
		extract.WithHeaders(cfg.HeaderAllowList),
		extract.WithMarkers(markers),
		extract.WithPaths(cfg.IncludePaths),
		extract.WithLogger(logger),
	)
	return fetcher, extractor, nil
}

// newReportWriter returns the writer for the requested format. With a
// report file, JSON and Markdown go to the file while the URL listing
// still streams to stdout.
func newReportWriter(cfg *config.Config, stdout io.Writer) (report.Writer, func(), error) {
	out := stdout
	closeOutput := func() {}

	if cfg.ReportFile != "" {
		if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		// Reports list hosts and fingerprints of the scanned sites.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		out = f
		closeOutput = func() { _ = f.Close() }
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(out, getVersion())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(cfg.Verbose)), closeOutput, nil
	}

	if cfg.ReportFile != "" {
		w = report.NewMultiWriter(w, report.NewSimpleWriter(stdout, report.WithVerbose(cfg.Verbose)))
	}
	return w, closeOutput, nil
}
