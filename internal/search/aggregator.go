package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/findsim/internal/model"
)

// Page is one page of search results.
type Page struct {
	// Records are the results of the page.
	Records []model.SearchResult

	// NextPageToken requests the following page. Empty on the last page.
	NextPageToken string

	// Total is the engine's match count, when reported.
	Total int
}

// API is an asset search engine.
type API interface {
	// Search returns the page of results for query identified by
	// pageToken; an empty token requests the first page.
	Search(ctx context.Context, query, pageToken string) (*Page, error)
}

// Limits bounds one aggregation run.
type Limits struct {
	// PerQueryCap is the number of raw records consumed per query. Zero
	// means unlimited.
	PerQueryCap int

	// GlobalCap is the number of distinct hosts kept. Zero means unlimited.
	GlobalCap int

	// MaxTotal marks a query too broad when the engine reports at least
	// this many matches on its first page. Zero disables the check.
	MaxTotal int

	// MaxRetries is the number of retries of a failed page request.
	MaxRetries int

	// Backoff is the first retry delay. It doubles on each retry.
	Backoff time.Duration

	// MaxBackoff caps the retry delay. Zero means uncapped.
	MaxBackoff time.Duration

	// Concurrency is the number of queries executed in parallel.
	Concurrency int
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Aggregator executes queries and merges their results into one ResultSet.
type Aggregator struct {
	api    API
	sleep  SleepFunc
	logger *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSleep replaces the backoff clock.
func WithSleep(s SleepFunc) AggregatorOption {
	return func(a *Aggregator) {
		if s != nil {
			a.sleep = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an Aggregator querying api.
func NewAggregator(api API, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		api:    api,
		sleep:  Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes queries concurrently and returns the finalized result set
// with one outcome per query, in query order.
//
// Each query is paginated until the last page, its record cap or the
// global host cap, checked after every page. A query whose first page
// reports MaxTotal matches or more is too broad: its records are dropped
// and no further page is requested. A failing query is recorded
// in its outcome and never stops the others. When ctx ends, the hosts
// aggregated so far are kept and unfinished queries are marked cancelled.
func (a *Aggregator) Run(ctx context.Context, queries []model.Query, limits Limits) (*model.ResultSet, []model.QueryOutcome) {
	results := model.NewResultSet(limits.GlobalCap)
	outcomes := make([]model.QueryOutcome, len(queries))

	var g errgroup.Group
	g.SetLimit(max(1, limits.Concurrency))
	for i, q := range queries {
		g.Go(func() error {
			outcomes[i] = a.runQuery(ctx, q, results, limits)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are recorded per outcome

	results.Finalize()
	return results, outcomes
}

func (a *Aggregator) runQuery(ctx context.Context, q model.Query, results *model.ResultSet, limits Limits) model.QueryOutcome {
	out := model.QueryOutcome{Query: q, State: model.QueryPending}
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			out.State = model.QueryCancelled
			out.SetError(err)
			return out
		}
		if results.Finalized() {
			out.State = model.QueryCapped
			return out
		}

		page, retries, err := a.fetchPage(ctx, q.Text, token, limits)
		out.Retries += retries
		if err != nil {
			out.SetError(err)
			switch {
			case ctx.Err() != nil:
				out.State = model.QueryCancelled
			case out.Pages > 0:
				out.State = model.QueryPartial
			default:
				out.State = model.QueryFailed
			}
			a.logger.Warn("query stopped on error",
				"query", q.Text,
				"state", out.State.String(),
				"pages", out.Pages,
				"error", err,
			)
			return out
		}

		out.Pages++
		out.Total = page.Total
		if out.Pages == 1 && limits.MaxTotal > 0 && page.Total >= limits.MaxTotal {
			out.State = model.QueryTooBroad
			a.logger.Info("query too broad, results dropped",
				"query", q.Text,
				"total", page.Total,
				"max_total", limits.MaxTotal,
			)
			return out
		}
		a.consume(q.Text, page.Records, results, limits, &out)

		switch {
		case limits.PerQueryCap > 0 && out.Records >= limits.PerQueryCap:
			out.State = model.QueryCapped
			return out
		case results.Finalized():
			out.State = model.QueryCapped
			return out
		case page.NextPageToken == "":
			out.State = model.QueryCompleted
			return out
		}
		token = page.NextPageToken
	}
}

// consume inserts the records of one page, up to the per-query cap.
func (a *Aggregator) consume(query string, records []model.SearchResult, results *model.ResultSet, limits Limits, out *model.QueryOutcome) {
	for _, r := range records {
		if limits.PerQueryCap > 0 && out.Records >= limits.PerQueryCap {
			return
		}
		out.Records++
		if skipHost(r.Host) {
			continue
		}
		switch results.Insert(query, r) {
		case model.InsertAdded:
			out.NewHosts++
		case model.InsertRejected:
			if results.Finalized() {
				return
			}
		}
	}
}

// fetchPage requests one page, retrying retryable errors with exponential
// backoff. It returns the number of retries made.
func (a *Aggregator) fetchPage(ctx context.Context, query, token string, limits Limits) (*Page, int, error) {
	delay := limits.Backoff
	for attempt := 0; ; attempt++ {
		page, err := a.api.Search(ctx, query, token)
		if err == nil {
			if page == nil {
				page = &Page{}
			}
			return page, attempt, nil
		}
		if ctx.Err() != nil || !model.IsRetryableSearchError(err) || attempt >= limits.MaxRetries {
			return nil, attempt, err
		}

		a.logger.Debug("retrying search page",
			"query", query,
			"page_token", token,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if serr := a.sleep(ctx, delay); serr != nil {
			return nil, attempt, serr
		}
		delay *= 2
		if limits.MaxBackoff > 0 && delay > limits.MaxBackoff {
			delay = limits.MaxBackoff
		}
	}
}

// skipHost reports records that do not identify a reachable host.
func skipHost(host string) bool {
	h := model.NormalizeHost(host)
	return h == "" || strings.HasPrefix(h, "0.")
}
