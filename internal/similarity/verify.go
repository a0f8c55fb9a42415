package similarity

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/findsim/internal/model"
)

// PageFetcher fetches a page with its sub-resources.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.Page, error)
}

// Verifier samples the results of each query and checks that they look
// like the target.
type Verifier struct {
	fetcher     PageFetcher
	samples     int
	threshold   float64
	concurrency int
	logger      *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithSamples sets the number of results fetched per query.
func WithSamples(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.samples = n
		}
	}
}

// WithThreshold sets the average similarity a query needs to be verified.
func WithThreshold(t float64) Option {
	return func(v *Verifier) {
		v.threshold = t
	}
}

// WithConcurrency sets the number of parallel sample fetches.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// NewVerifier creates a Verifier fetching samples through f.
func NewVerifier(f PageFetcher, opts ...Option) *Verifier {
	v := &Verifier{
		fetcher:     f,
		samples:     10,
		threshold:   0.5,
		concurrency: 5,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify sets Similarity and Verified on every outcome that has results.
// Each query is scored by the average resource-path similarity of its
// first samples with target. Unreachable samples are left out of the
// average; a query with no reachable sample stays unverified. A sample
// shared by several queries is fetched once.
func (v *Verifier) Verify(ctx context.Context, target *model.Page, results []model.SearchResult, outcomes []model.QueryOutcome) error {
	targetPaths := ResourcePaths(target)

	samples := make([][]string, len(outcomes))
	var urls []string
	for i, o := range outcomes {
		for _, r := range results {
			if len(samples[i]) >= v.samples {
				break
			}
			if r.URL == "" || !slices.Contains(r.Queries, o.Query.Text) {
				continue
			}
			samples[i] = append(samples[i], r.URL)
			if !slices.Contains(urls, r.URL) {
				urls = append(urls, r.URL)
			}
		}
	}

	scores := v.score(ctx, targetPaths, urls)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range outcomes {
		var sum float64
		n := 0
		for _, u := range samples[i] {
			if s, ok := scores[u]; ok {
				sum += s
				n++
			}
		}
		if n == 0 {
			continue
		}
		avg := sum / float64(n)
		ok := avg >= v.threshold
		outcomes[i].Similarity = &avg
		outcomes[i].Verified = &ok

		v.logger.Debug("query verified",
			"query", outcomes[i].Query.Text,
			"samples", n,
			"similarity", avg,
			"verified", ok,
		)
	}
	return nil
}

// score fetches every url and returns its similarity with targetPaths.
// Failed fetches have no entry.
func (v *Verifier) score(ctx context.Context, targetPaths, urls []string) map[string]float64 {
	var (
		mu     sync.Mutex
		scores = make(map[string]float64, len(urls))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			page, err := v.fetcher.Fetch(gctx, u)
			if err != nil {
				v.logger.Debug("verification sample unreachable", "url", u, "error", err)
				return nil
			}
			s := Jaccard(targetPaths, ResourcePaths(page))
			mu.Lock()
			scores[u] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // fetch failures are skipped

	return scores
}
