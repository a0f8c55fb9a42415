package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/findsim/internal/classify"
	"github.com/nao1215/findsim/internal/extract"
	"github.com/nao1215/findsim/internal/fetch"
	"github.com/nao1215/findsim/internal/model"
	"github.com/nao1215/findsim/internal/query"
	"github.com/nao1215/findsim/internal/search"
)

// labelBackend labels fingerprints whose value contains "generic" as generic.
type labelBackend struct{}

func (labelBackend) ClassifyBatch(_ context.Context, p classify.Prompt) ([]classify.RawVerdict, error) {
	out := make([]classify.RawVerdict, len(p.Items))
	for i, fp := range p.Items {
		label := "distinctive"
		if strings.Contains(fp.Value, "generic") {
			label = "generic"
		}
		out[i] = classify.RawVerdict{ID: i + 1, Label: label}
	}
	return out, nil
}

// hostAPI returns a single page of hosts per query text.
type hostAPI struct {
	mu      sync.Mutex
	hosts   map[string][]string
	queries []string
}

func (a *hostAPI) Search(_ context.Context, q, _ string) (*search.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, q)
	page := &search.Page{}
	for _, h := range a.hosts[q] {
		page.Records = append(page.Records, model.SearchResult{Host: h, URL: "http://" + h})
	}
	return page, nil
}

func newSite(t *testing.T, poweredBy string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Powered-By", poweredBy)
		_, _ = w.Write([]byte("<html><body><p>hello</p></body></html>"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// hashBackend labels every content hash generic and everything else distinctive.
type hashBackend struct{}

func (hashBackend) ClassifyBatch(_ context.Context, p classify.Prompt) ([]classify.RawVerdict, error) {
	out := make([]classify.RawVerdict, len(p.Items))
	for i, fp := range p.Items {
		label := "distinctive"
		if fp.Kind == model.KindHash {
			label = "generic"
		}
		out[i] = classify.RawVerdict{ID: i + 1, Label: label}
	}
	return out, nil
}

// pagedAPI serves numbered pages of hosts for one query and nothing for others.
type pagedAPI struct {
	mu      sync.Mutex
	query   string
	pages   [][]string
	total   int
	queries []string
	calls   int
}

func (a *pagedAPI) Search(_ context.Context, q, token string) (*search.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.queries, q) {
		a.queries = append(a.queries, q)
	}
	if q != a.query {
		return &search.Page{}, nil
	}
	a.calls++
	idx := 0
	if token != "" {
		idx, _ = strconv.Atoi(token)
	}
	page := &search.Page{Total: a.total}
	if idx >= len(a.pages) {
		return page, nil
	}
	for _, h := range a.pages[idx] {
		page.Records = append(page.Records, model.SearchResult{Host: h, URL: "http://" + h})
	}
	if idx+1 < len(a.pages) {
		page.NextPageToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func hostNames(prefix string, from, n int) []string {
	out := make([]string, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, fmt.Sprintf("%s%d.example.com", prefix, i))
	}
	return out
}

func factory(api search.API) func() *Pipeline {
	return factoryWith(api, labelBackend{})
}

func factoryWith(api search.API, backend classify.BatchClassifier) func() *Pipeline {
	return func() *Pipeline {
		p := New()
		p.AddSteps(
			NewFetchStep(fetch.New(&http.Client{Timeout: 5 * time.Second})),
			NewExtractStep(extract.New()),
			NewClassifyStep(classify.New(backend)),
			NewCompileStep(query.New()),
			NewSearchStep(search.NewAggregator(api), search.Limits{PerQueryCap: 100, GlobalCap: 1000, MaxTotal: 5000, Concurrency: 2}),
		)
		return p
	}
}

func TestPipeline_HeaderFingerprintEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t, "CustomCMS/3.2")
	api := &hostAPI{hosts: map[string][]string{
		`header="X-Powered-By: CustomCMS/3.2"`: {"a.example.com", "b.example.com", "https://a.example.com/"},
	}}

	report := model.NewReport(site.URL)
	if err := factory(api)().Execute(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Distinctive) != 1 || report.Distinctive[0].Value != "X-Powered-By: CustomCMS/3.2" {
		t.Fatalf("unexpected distinctive set %+v", report.Distinctive)
	}
	if len(report.Queries) != 1 || report.Queries[0].Text != `header="X-Powered-By: CustomCMS/3.2"` {
		t.Fatalf("unexpected queries %+v", report.Queries)
	}
	if got := report.Hosts(); !slices.Equal(got, []string{"a.example.com", "b.example.com"}) {
		t.Errorf("unexpected hosts %v", got)
	}
	if !report.Succeeded() || report.Incomplete {
		t.Errorf("expected a complete successful report, outcomes %+v", report.Outcomes)
	}
	want := []string{StepFetch, StepExtract, StepClassify, StepCompile, StepSearch}
	if !slices.Equal(report.Steps, want) {
		t.Errorf("steps = %v, want %v", report.Steps, want)
	}
}

func TestPipeline_GenericScriptsLeaveOnlyTheHeaderQuery(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("X-Powered-By", "CustomCMS/3.2")
			_, _ = w.Write([]byte(`<html><head><script src="/jquery.js"></script><script src="/bootstrap.js"></script></head><body><p>hello</p></body></html>`))
		case "/jquery.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("/*! jQuery v3.7.1 */ window.jQuery = function () {};"))
		case "/bootstrap.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("/*! Bootstrap v5.3.3 */ window.bootstrap = {};"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.Close)

	const headerQuery = `header="X-Powered-By: CustomCMS/3.2"`
	api := &pagedAPI{
		query: headerQuery,
		total: 112,
		pages: [][]string{
			hostNames("a", 0, 50),
			append(hostNames("a", 45, 5), hostNames("b", 0, 45)...), // 5 hosts repeated from page 1
			hostNames("c", 0, 12),
		},
	}

	report := model.NewReport(site.URL)
	if err := factoryWith(api, hashBackend{})().Execute(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hashes := 0
	for _, v := range report.Verdicts {
		if v.Fingerprint.Kind == model.KindHash {
			hashes++
		}
	}
	if hashes != 2 {
		t.Fatalf("expected both scripts hashed, verdicts %+v", report.Verdicts)
	}
	if len(report.Queries) != 1 || report.Queries[0].Text != headerQuery {
		t.Fatalf("expected exactly the header query, got %+v", report.Queries)
	}
	if !slices.Equal(api.queries, []string{headerQuery}) {
		t.Errorf("unexpected queries sent %v", api.queries)
	}
	if report.Results.Len() != 95 {
		t.Errorf("expected 95 hosts, got %d", report.Results.Len())
	}
	if api.calls != 2 {
		t.Errorf("third page must not be requested, calls = %d", api.calls)
	}
	if o := report.Outcomes[0]; o.State != model.QueryCapped || o.Records != 100 || o.Total != 112 {
		t.Errorf("unexpected outcome %+v", o)
	}
}

func TestBatchProcessor_IsolatesFailures(t *testing.T) {
	t.Parallel()

	sites := []*httptest.Server{
		newSite(t, "CustomCMS/3.2"),
		newSite(t, "generic-server"),
		newSite(t, "OtherCMS/1.0"),
	}
	api := &hostAPI{hosts: map[string][]string{
		`header="X-Powered-By: CustomCMS/3.2"`: {"one.example.com"},
		`header="X-Powered-By: OtherCMS/1.0"`:  {"three.example.com"},
	}}
	targets := make([]string, len(sites))
	for i, s := range sites {
		targets[i] = s.URL
	}

	var mu sync.Mutex
	streamed := 0
	bp := NewBatchProcessor(factory(api), WithConcurrency(3), WithRunID("run-1"))
	reports := make([]*model.Report, len(targets))
	bp.ProcessBatchWithCallback(context.Background(), targets, func(r *model.Report, i int) {
		mu.Lock()
		defer mu.Unlock()
		streamed++
		reports[i] = r
	})

	if streamed != 3 {
		t.Fatalf("expected 3 streamed reports, got %d", streamed)
	}
	for i, r := range reports {
		if r.Target != targets[i] || r.RunID != "run-1" {
			t.Errorf("report %d: target %s run %s", i, r.Target, r.RunID)
		}
	}
	if got := reports[0].Hosts(); len(got) != 1 || got[0] != "one.example.com" {
		t.Errorf("report 0 hosts %v", got)
	}
	if !errors.Is(reports[1].Error, model.ErrNoDistinctiveFingerprint) {
		t.Errorf("report 1: expected ErrNoDistinctiveFingerprint, got %v", reports[1].Error)
	}
	if len(reports[1].Queries) != 0 {
		t.Error("all-generic target must not issue queries")
	}
	if got := reports[2].Hosts(); len(got) != 1 || got[0] != "three.example.com" {
		t.Errorf("report 2 hosts %v", got)
	}
	for _, q := range api.queries {
		if strings.Contains(q, "generic") {
			t.Errorf("generic fingerprint was queried: %s", q)
		}
	}
}

func TestBatchProcessor_ProcessBatchOrder(t *testing.T) {
	t.Parallel()

	bp := NewBatchProcessor(func() *Pipeline {
		p := New()
		p.AddStep(&mockStep{name: "noop"})
		return p
	}, WithConcurrency(2))

	targets := []string{"http://a", "http://b", "http://c", "http://d"}
	reports := bp.ProcessBatch(context.Background(), targets)
	for i, r := range reports {
		if r == nil || r.Target != targets[i] {
			t.Errorf("report %d out of order: %+v", i, r)
		}
	}
}

func TestBatchProcessor_CancelledTargetsStillReport(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bp := NewBatchProcessor(func() *Pipeline { return New() })
	reports := bp.ProcessBatch(ctx, []string{"http://a", "http://b"})
	for _, r := range reports {
		if r == nil || !r.TimedOut || !errors.Is(r.Error, context.Canceled) {
			t.Errorf("unexpected report %+v", r)
		}
	}
}

type stubFetcher struct {
	page *model.Page
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) (*model.Page, error) {
	return s.page, s.err
}

func TestFetchStep(t *testing.T) {
	t.Parallel()

	t.Run("transport failure is fatal", func(t *testing.T) {
		t.Parallel()
		fetchErr := &model.FetchError{URL: "http://x", Err: errors.New("connection refused")}
		report := model.NewReport("http://x")
		err := NewFetchStep(stubFetcher{err: fetchErr}).Do(context.Background(), report)
		var fe *model.FetchError
		if !errors.As(err, &fe) {
			t.Errorf("expected FetchError, got %v", err)
		}
	})

	t.Run("empty page is fatal", func(t *testing.T) {
		t.Parallel()
		report := model.NewReport("http://x")
		err := NewFetchStep(stubFetcher{page: &model.Page{StatusCode: 204}}).Do(context.Background(), report)
		if err == nil {
			t.Error("expected an error for an empty page")
		}
	})

	t.Run("error status with body is kept", func(t *testing.T) {
		t.Parallel()
		page := &model.Page{
			StatusCode: 403,
			Body:       []byte("<html>denied</html>"),
			SubResources: []model.SubResource{
				{URL: "http://x/a.js", Type: model.ResourceScript, Err: errors.New("timeout")},
			},
		}
		report := model.NewReport("http://x")
		err := NewFetchStep(stubFetcher{page: page, err: &model.FetchError{URL: "http://x", StatusCode: 403}}).Do(context.Background(), report)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Page != page || len(report.Warnings) != 2 {
			t.Errorf("expected page and 2 warnings, got %v", report.Warnings)
		}
	})
}

func TestExtractStep_NoCandidates(t *testing.T) {
	t.Parallel()

	report := model.NewReport("http://x")
	report.Page = &model.Page{Body: []byte("plain"), ContentType: "text/plain"}
	err := NewExtractStep(extract.New(extract.WithHeaders(nil))).Do(context.Background(), report)
	if !errors.Is(err, model.ErrNoFingerprint) {
		t.Errorf("expected ErrNoFingerprint, got %v", err)
	}
}

type failingAPI struct{}

func (failingAPI) Search(context.Context, string, string) (*search.Page, error) {
	return nil, &model.SearchAPIError{Kind: model.SearchAuth, Message: "bad key"}
}

func TestSearchStep_FailedQueriesMarkIncomplete(t *testing.T) {
	t.Parallel()

	report := model.NewReport("http://x")
	report.Queries = []model.Query{{Text: `title="x"`}}
	if err := NewSearchStep(search.NewAggregator(failingAPI{}), search.Limits{Concurrency: 1}).Do(context.Background(), report); err != nil {
		t.Fatalf("query failures must not be fatal: %v", err)
	}
	if !report.Incomplete || report.Succeeded() {
		t.Errorf("expected incomplete unsuccessful report: %+v", report.Outcomes)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", report.Warnings)
	}
}

// totalsRunner reports fixed outcomes, one per query, in query order.
type totalsRunner struct{ totals map[string]int }

func (r totalsRunner) Run(_ context.Context, queries []model.Query, _ search.Limits) (*model.ResultSet, []model.QueryOutcome) {
	out := make([]model.QueryOutcome, len(queries))
	for i, q := range queries {
		total, ok := r.totals[q.Text]
		out[i] = model.QueryOutcome{Query: q, State: model.QueryCompleted, Total: total}
		switch {
		case !ok:
			out[i].State = model.QueryFailed
		case total >= 5000:
			out[i].State = model.QueryTooBroad
			out[i].Pages = 1
		default:
			out[i].Pages = 1
		}
	}
	return model.NewResultSet(0), out
}

func TestSearchStep_OrdersByTotal(t *testing.T) {
	t.Parallel()

	report := model.NewReport("http://x")
	report.Queries = []model.Query{{Text: "broad"}, {Text: "failed"}, {Text: "mid"}, {Text: "rare"}}
	runner := totalsRunner{totals: map[string]int{"broad": 9000, "mid": 300, "rare": 4}}
	if err := NewSearchStep(runner, search.Limits{Concurrency: 1}).Do(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"rare", "mid", "broad", "failed"}
	for i, o := range report.Outcomes {
		if o.Query.Text != want[i] || report.Queries[i].Text != want[i] {
			t.Errorf("position %d: outcome %s, query %s, want %s", i, o.Query.Text, report.Queries[i].Text, want[i])
		}
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "broad matched 9000 records") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing too broad warning in %v", report.Warnings)
	}
}

// stallingAPI serves one page of hosts, then blocks until the request is cancelled.
type stallingAPI struct{ first []string }

func (a stallingAPI) Search(ctx context.Context, _, token string) (*search.Page, error) {
	if token == "" {
		page := &search.Page{NextPageToken: "1", Total: 500}
		for _, h := range a.first {
			page.Records = append(page.Records, model.SearchResult{Host: h, URL: "http://" + h})
		}
		return page, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearchStep_RunTimeoutKeepsResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	report := model.NewReport("http://x")
	report.Queries = []model.Query{{Text: `title="x"`}}
	api := stallingAPI{first: []string{"a.example.com", "b.example.com"}}
	if err := NewSearchStep(search.NewAggregator(api), search.Limits{Concurrency: 1}).Do(ctx, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Results.Len() != 2 {
		t.Errorf("expected 2 hosts kept, got %d", report.Results.Len())
	}
	if !report.Incomplete || !report.TimedOut || report.Failed() {
		t.Errorf("expected an incomplete timed out report, got %+v", report)
	}
	if !report.Succeeded() {
		t.Errorf("hosts gathered before the timeout must count as success: %+v", report.Outcomes)
	}
	if status := model.NewSimpleReport(report).Status; status != model.StatusIncomplete {
		t.Errorf("expected incomplete status, got %s", status)
	}
}

type countingVerifier struct{ calls int }

func (v *countingVerifier) Verify(context.Context, *model.Page, []model.SearchResult, []model.QueryOutcome) error {
	v.calls++
	return nil
}

func TestVerifyStep_SkipsEmptyResults(t *testing.T) {
	t.Parallel()

	v := &countingVerifier{}
	report := model.NewReport("http://x")
	report.Results = model.NewResultSet(0)
	if err := NewVerifyStep(v).Do(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 0 {
		t.Error("verifier must not run without results")
	}
}
