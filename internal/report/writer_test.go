package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/findsim/internal/model"
)

// createTestReport builds a report of a successful run with two queries.
func createTestReport() *model.Report {
	report := model.NewReport("http://target.example.com")
	report.RunID = "run-42"
	report.FinishedAt = report.StartedAt.Add(1500 * time.Millisecond)

	header := model.Fingerprint{Kind: model.KindHeaderPair, Value: "X-Powered-By: CustomCMS/3.2", Source: "header:X-Powered-By"}
	jquery := model.Fingerprint{Kind: model.KindHash, Value: "abc", Source: model.SourceScript}
	title := model.Fingerprint{Kind: model.KindExactString, Value: "Acme | Login", Source: model.SourceTitle}

	report.Candidates = model.NewCandidateSet()
	report.Candidates.Add(header)
	report.Candidates.Add(jquery)
	report.Candidates.Add(title)
	report.Verdicts = []model.Verdict{
		{Fingerprint: header, Label: model.LabelDistinctive, Reason: "custom product"},
		{Fingerprint: jquery, Label: model.LabelGeneric, Reason: "jquery"},
		{Fingerprint: title, Label: model.LabelDistinctive},
	}
	report.Distinctive = []model.Fingerprint{header, title}

	q1 := model.Query{Text: `header="X-Powered-By: CustomCMS/3.2"`, Refs: []model.Fingerprint{header}}
	q2 := model.Query{Text: `title="Acme | Login"`, Refs: []model.Fingerprint{title}, Broad: true}
	report.Queries = []model.Query{q1, q2}

	report.Results = model.NewResultSet(0)
	report.Results.Insert(q1.Text, model.SearchResult{Host: "a.example.com", URL: "http://a.example.com", IP: "1.2.3.4", Port: "80"})
	report.Results.Insert(q1.Text, model.SearchResult{Host: "b.example.com", URL: "https://b.example.com"})
	report.Results.Insert(q2.Text, model.SearchResult{Host: "a.example.com", URL: "http://a.example.com"})
	report.Results.Insert(q2.Text, model.SearchResult{Host: "c.example.com", URL: "http://c.example.com"})
	report.Results.Finalize()

	sim := 0.75
	verified := true
	report.Outcomes = []model.QueryOutcome{
		{Query: q1, State: model.QueryCompleted, Pages: 1, Records: 2, NewHosts: 2, Similarity: &sim, Verified: &verified},
		{Query: q2, State: model.QueryCapped, Pages: 1, Records: 2, NewHosts: 1},
	}
	report.Steps = []string{"fetch", "extract", "classify", "compile", "search"}
	return report
}

func createFailedReport() *model.Report {
	report := model.NewReport("http://generic.example.com")
	report.SetError(model.ErrNoDistinctiveFingerprint)
	return report
}

func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes header and one url per line", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "# http://target.example.com\nhttp://a.example.com\nhttps://b.example.com\nhttp://c.example.com\n\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("writes error line for failed targets", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createFailedReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(buf.String(), "# http://generic.example.com: error: no distinctive fingerprint") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("verbose adds counts", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# candidates=3 generic=1 distinctive=2 queries=2 succeeded=2 hosts=3") {
			t.Errorf("missing summary line in %q", buf.String())
		}
	})

	t.Run("verbose lists too broad queries", func(t *testing.T) {
		t.Parallel()

		report := createTestReport()
		report.Outcomes[1] = model.QueryOutcome{Query: report.Queries[1], State: model.QueryTooBroad, Pages: 1, Total: 5000}

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# too broad: 1 of 2 queries dropped") {
			t.Errorf("missing too broad line in %q", buf.String())
		}
	})

	t.Run("marks incomplete targets", func(t *testing.T) {
		t.Parallel()

		report := createTestReport()
		report.Outcomes[1].State = model.QueryPartial
		report.Incomplete = true

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# incomplete: 1 of 2 queries did not finish") {
			t.Errorf("missing incomplete line in %q", buf.String())
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes one document per line", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewJSONWriter(&buf, "v1.2.3")
		if _, err := w.Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := w.Write(createFailedReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(lines))
		}

		var doc struct {
			Version string `json:"version"`
			Summary struct {
				Status string   `json:"status"`
				Hosts  []string `json:"hosts"`
			} `json:"summary"`
			Report struct {
				RunID    string `json:"run_id"`
				Outcomes []struct {
					State      string   `json:"state"`
					Similarity *float64 `json:"similarity"`
				} `json:"outcomes"`
				Results []struct {
					Host    string   `json:"host"`
					Queries []string `json:"queries"`
				} `json:"results"`
				Verdicts []struct {
					Label string `json:"label"`
				} `json:"verdicts"`
			} `json:"report"`
		}
		if err := json.Unmarshal([]byte(lines[0]), &doc); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if doc.Version != "v1.2.3" || doc.Report.RunID != "run-42" || doc.Summary.Status != "ok" {
			t.Errorf("unexpected header fields %+v", doc)
		}
		if len(doc.Report.Results) != 3 || len(doc.Report.Results[0].Queries) != 2 {
			t.Errorf("results with provenance missing: %+v", doc.Report.Results)
		}
		if doc.Report.Outcomes[0].State != "completed" || doc.Report.Outcomes[0].Similarity == nil {
			t.Errorf("unexpected outcome %+v", doc.Report.Outcomes[0])
		}
		if doc.Report.Verdicts[1].Label != "generic" {
			t.Errorf("unexpected verdict label %q", doc.Report.Verdicts[1].Label)
		}

		var failed map[string]any
		if err := json.Unmarshal([]byte(lines[1]), &failed); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		summary, _ := failed["summary"].(map[string]any)
		if summary["status"] != "failed" {
			t.Errorf("unexpected failed summary %v", summary)
		}
	})

	t.Run("pretty print", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, "dev", WithPrettyPrint()).WriteSimple(model.NewSimpleReport(createTestReport())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"target\": \"http://target.example.com\"") {
			t.Errorf("expected indented output, got %s", buf.String())
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("full report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			"# findsim report",
			"run-42",
			"## Fingerprints",
			"## Queries",
			"## Hosts",
			"https://b.example.com",
			"0.75 ✓",
			"mermaid",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("too broad queries", func(t *testing.T) {
		t.Parallel()

		report := createTestReport()
		report.Outcomes[1] = model.QueryOutcome{Query: report.Queries[1], State: model.QueryTooBroad, Pages: 1, Total: 8000}

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{"Matches", "too_broad", "8000", "1 of 2 queries matched too many records"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("failed report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createFailedReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "Processing failed") || !strings.Contains(out, "No fingerprint extracted.") {
			t.Errorf("unexpected output %s", out)
		}
		if strings.Contains(out, "## Queries") {
			t.Error("queries section must be omitted without queries")
		}
	})

	t.Run("simple report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteSimple(model.NewSimpleReport(createTestReport())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "http://c.example.com") {
			t.Errorf("expected host list, got %s", buf.String())
		}
	})
}

type errWriter struct{}

func (errWriter) Write(*model.Report) (int, error)             { return 0, errors.New("disk full") }
func (errWriter) WriteSimple(*model.SimpleReport) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	mw := NewMultiWriter(NewSimpleWriter(&a), NewSimpleWriter(&b))
	n, err := mw.Write(createTestReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.String() != b.String() || n != a.Len()+b.Len() {
		t.Errorf("writers diverged or byte count wrong: %d", n)
	}

	var c bytes.Buffer
	if _, err := NewMultiWriter(errWriter{}, NewSimpleWriter(&c)).WriteSimple(&model.SimpleReport{}); err == nil {
		t.Error("expected the first error to be returned")
	}
	if c.Len() != 0 {
		t.Errorf("writers after a failing one must not run, got %q", c.String())
	}
}

func TestCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a|b", 10, `a\|b`},
		{"line\nbreak", 20, "line break"},
		{"abcdefghij", 6, "abc..."},
		{"日本語テキスト", 5, "日本..."},
	}
	for _, tt := range tests {
		if got := cell(tt.in, tt.max); got != tt.want {
			t.Errorf("cell(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
