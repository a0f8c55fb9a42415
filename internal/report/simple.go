package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/findsim/internal/model"
)

// SimpleWriter prints one block per target: a "# <target>" line followed
// by one result URL per line, or "# <target>: error: <reason>" when the
// target failed. The output can be piped straight into other tools since
// every non-URL line starts with '#'.
type SimpleWriter struct {
	baseWriter

	// verbose adds a summary comment line per target.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose adds a summary of counts under each target header.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter writing to output.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write renders the condensed view of report.
func (w *SimpleWriter) Write(report *model.Report) (int, error) {
	return w.WriteSimple(model.NewSimpleReport(report))
}

// WriteSimple renders report.
func (w *SimpleWriter) WriteSimple(report *model.SimpleReport) (int, error) {
	var sb strings.Builder

	if report.Status == model.StatusFailed {
		fmt.Fprintf(&sb, "# %s: error: %s\n\n", report.Target, report.Error)
		return w.output.Write([]byte(sb.String()))
	}

	fmt.Fprintf(&sb, "# %s\n", report.Target)
	if w.verbose {
		fmt.Fprintf(&sb, "# candidates=%d generic=%d distinctive=%d queries=%d succeeded=%d hosts=%d\n",
			report.Candidates,
			report.Generic,
			report.Distinctive,
			report.Queries,
			report.SucceededQueries,
			len(report.Hosts),
		)
	}
	if report.Status == model.StatusIncomplete {
		fmt.Fprintf(&sb, "# incomplete: %d of %d queries did not finish\n", len(report.IncompleteQueries), report.Queries)
	}
	if w.verbose && len(report.TooBroadQueries) > 0 {
		fmt.Fprintf(&sb, "# too broad: %d of %d queries dropped\n", len(report.TooBroadQueries), report.Queries)
	}
	for _, h := range report.Hosts {
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}
