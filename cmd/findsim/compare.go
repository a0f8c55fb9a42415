package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"

	"github.com/nao1215/findsim/internal/config"
	findsimlog "github.com/nao1215/findsim/internal/log"
	"github.com/nao1215/findsim/internal/model"
	"github.com/nao1215/findsim/internal/similarity"
)

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <url1> <url2>",
		Short: "Measure how similar two websites are",
		Long: `Compare fetches two websites and reports their similarity:

- paths: Jaccard similarity of the script, stylesheet, image and favicon paths
- fingerprints: Jaccard similarity of the extracted fingerprints

It also lists the fingerprints both sites share. No language model or
search API is used.

Examples:
  # Compare a target with a search result
  findsim compare https://portal.example.com http://203.0.113.7:8080

  # Output the comparison as JSON
  findsim compare --json a.example.com b.example.com`,
		Args: cobra.ExactArgs(2),
		RunE: runCompareCmd,
	}

	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each HTTP request")
	cmd.Flags().String("proxy", "",
		"Proxy for requests (http, https, socks5 or socks5h URL)")
	cmd.Flags().BoolP("json", "j", false,
		"Output the comparison in JSON format")

	return cmd
}

// comparisonResult is the JSON output of compare.
type comparisonResult struct {
	First  string `json:"first"`
	Second string `json:"second"`
	similarity.Comparison
}

func runCompareCmd(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig()

	var err error
	if cfg.Timeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
		return err
	}
	if cfg.ProxyURL, err = cmd.Flags().GetString("proxy"); err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	logger, closer, err := findsimlog.Setup(cmd.ErrOrStderr(), "", cfg.Verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := compareSites(ctx, cfg, args[0], args[1], logger)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printComparison(cmd.OutOrStdout(), result)
	return nil
}

// compareSites fetches and fingerprints both sites concurrently.
func compareSites(ctx context.Context, cfg *config.Config, first, second string, logger *slog.Logger) (*comparisonResult, error) {
	fetcher, extractor, err := newFetcherAndExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}

	urls := [2]string{first, second}
	var (
		pages      [2]*model.Page
		candidates [2]*model.CandidateSet
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			page, err := fetcher.Fetch(gctx, u)
			if page == nil || !page.HasBody() {
				if err == nil {
					err = fmt.Errorf("fetch %s: empty response body", u)
				}
				return err
			}
			if err != nil {
				logger.Warn("page fetched with an error status", "url", u, "error", err)
			}
			pages[i] = page
			candidates[i] = extractor.Extract(page)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &comparisonResult{
		First:      first,
		Second:     second,
		Comparison: similarity.Compare(pages[0], pages[1], candidates[0], candidates[1]),
	}, nil
}

func printComparison(w io.Writer, r *comparisonResult) {
	fmt.Fprintf(w, "%s\n%s\n\n", r.First, r.Second)
	fmt.Fprintf(w, "paths:        %.2f\n", r.Paths)
	fmt.Fprintf(w, "fingerprints: %.2f\n", r.Fingerprints)
	if len(r.Shared) == 0 {
		return
	}
	fmt.Fprintf(w, "\nshared fingerprints (%d):\n", len(r.Shared))
	for _, fp := range r.Shared {
		fmt.Fprintf(w, "  %-12s %s\n", fp.Source, fp.Value)
	}
}
