package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/findsim/internal/model"
)

// MarkdownWriter renders reports as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter writing to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write renders the full report: fingerprints with their verdicts,
// queries with their outcomes and the result hosts.
func (w *MarkdownWriter) Write(report *model.Report) (int, error) {
	simple := model.NewSimpleReport(report)
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report, simple)
	w.writeFingerprints(md, report)
	w.writeQueries(md, report)
	w.writeHosts(md, report)
	w.writeWarnings(md, report)

	return len(md.String()), md.Build()
}

// WriteSimple renders the condensed report.
func (w *MarkdownWriter) WriteSimple(report *model.SimpleReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("findsim report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Target", "`" + report.Target + "`"},
			{"Date", report.DateScanned.Format("2006-01-02 15:04:05 MST")},
			{"Status", statusText(report)},
			{"Hosts", strconv.Itoa(len(report.Hosts))},
		},
	})
	md.PlainText("")
	if len(report.Hosts) > 0 {
		md.BulletList(report.Hosts...)
		md.PlainText("")
	}
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.Report, simple *model.SimpleReport) {
	md.H1("findsim report")
	md.PlainText("")

	rows := [][]string{
		{"Target", "`" + report.Target + "`"},
	}
	if report.RunID != "" {
		rows = append(rows, []string{"Run ID", "`" + report.RunID + "`"})
	}
	rows = append(rows,
		[]string{"Date", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		[]string{"Duration", report.Duration().Round(time.Millisecond).String()},
		[]string{"Status", statusText(simple)},
		[]string{"Candidates", strconv.Itoa(simple.Candidates)},
		[]string{"Distinctive", strconv.Itoa(simple.Distinctive)},
		[]string{"Queries", fmt.Sprintf("%d (%d succeeded)", simple.Queries, simple.SucceededQueries)},
		[]string{"Hosts", strconv.Itoa(len(simple.Hosts))},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	switch simple.Status {
	case model.StatusFailed:
		md.Cautionf("Processing failed: %s", simple.Error)
	case model.StatusIncomplete:
		md.Warningf("Results are incomplete: %d of %d queries did not finish.", len(simple.IncompleteQueries), simple.Queries)
	default:
		md.Tip("Every query ran to completion.")
	}
	md.PlainText("")
	if report.ClassifierDegraded {
		md.Importantf("The classifier failed on some batches; those fingerprints were kept as distinctive.")
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFingerprints(md *markdown.Markdown, report *model.Report) {
	md.H2("Fingerprints")
	md.PlainText("")

	rows := make([][]string, 0)
	if len(report.Verdicts) > 0 {
		for _, v := range report.Verdicts {
			label := v.Label.String()
			if v.FailOpen {
				label += " (default)"
			}
			rows = append(rows, []string{
				string(v.Fingerprint.Kind),
				cell(v.Fingerprint.Source, 30),
				"`" + cell(v.Fingerprint.Value, 60) + "`",
				label,
				cell(v.Reason, 60),
			})
		}
	} else {
		for _, fp := range report.Candidates.Items() {
			rows = append(rows, []string{string(fp.Kind), cell(fp.Source, 30), "`" + cell(fp.Value, 60) + "`", "-", "-"})
		}
	}
	if len(rows) == 0 {
		md.PlainText("No fingerprint extracted.")
		md.PlainText("")
		return
	}

	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Source", "Value", "Label", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeQueries(md *markdown.Markdown, report *model.Report) {
	if len(report.Queries) == 0 {
		return
	}
	md.H2("Queries")
	md.PlainText("")

	rows := make([][]string, 0, len(report.Queries))
	if len(report.Outcomes) == len(report.Queries) {
		for _, o := range report.Outcomes {
			state := o.State.String()
			if o.ErrorMessage != "" {
				state += ": " + cell(o.ErrorMessage, 40)
			}
			rows = append(rows, []string{
				"`" + cell(o.Query.Text, 80) + "`",
				state,
				matchesText(o),
				strconv.Itoa(o.Pages),
				strconv.Itoa(o.Records),
				strconv.Itoa(o.NewHosts),
				similarityText(o),
			})
		}
	} else {
		for _, q := range report.Queries {
			rows = append(rows, []string{"`" + cell(q.Text, 80) + "`", model.QueryPending.String(), "-", "-", "-", "-", "-"})
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Query", "State", "Matches", "Pages", "Records", "New hosts", "Similarity"},
		Rows:   rows,
	})
	md.PlainText("")
	if broad := report.TooBroadQueries(); len(broad) > 0 {
		md.Note(fmt.Sprintf("%d of %d queries matched too many records; their hosts were dropped.", len(broad), len(report.Outcomes)))
		md.PlainText("")
	}

	w.writePieChart(md, report)
}

// writePieChart shows which queries contributed the result hosts.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.Report) {
	contributing := 0
	for _, o := range report.Outcomes {
		if o.NewHosts > 0 {
			contributing++
		}
	}
	if contributing < 2 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("New hosts by query"),
		piechart.WithShowData(true),
	)
	for i, o := range report.Outcomes {
		if o.NewHosts > 0 {
			chart.LabelAndIntValue("Q"+strconv.Itoa(i+1), uint64(o.NewHosts))
		}
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeHosts(md *markdown.Markdown, report *model.Report) {
	results := report.ResultList()
	md.H2("Hosts")
	md.PlainText("")
	if len(results) == 0 {
		md.PlainText("No similar host found.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			cell(r.URL, 60),
			dash(r.IP),
			dash(r.Port),
			dash(cell(r.Title, 40)),
			strconv.Itoa(len(r.Queries)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "IP", "Port", "Title", "Queries"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeWarnings(md *markdown.Markdown, report *model.Report) {
	if len(report.Warnings) == 0 {
		return
	}
	md.H2("Warnings")
	md.PlainText("")
	md.BulletList(report.Warnings...)
	md.PlainText("")
}

func statusText(report *model.SimpleReport) string {
	switch report.Status {
	case model.StatusFailed:
		return "❌ Failed - " + report.Error
	case model.StatusIncomplete:
		return "⚠️ Incomplete (partial results)"
	default:
		return "✅ Complete"
	}
}

func similarityText(o model.QueryOutcome) string {
	if o.Similarity == nil {
		return "-"
	}
	s := strconv.FormatFloat(*o.Similarity, 'f', 2, 64)
	if o.Verified != nil && *o.Verified {
		s += " ✓"
	}
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cell makes s safe for a table cell and truncates it to maxLen runes.
func cell(s string, maxLen int) string {
	s = strings.NewReplacer("|", `\|`, "\n", " ", "`", "'").Replace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// matchesText renders the engine's match count of an outcome.
func matchesText(o model.QueryOutcome) string {
	if o.Pages == 0 {
		return "-"
	}
	return strconv.Itoa(o.Total)
}
