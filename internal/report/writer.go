package report

import (
	"io"

	"github.com/nao1215/findsim/internal/model"
)

// Writer renders target reports. Implementations own their output format
// and destination; scan calls Write once per target as it finishes.
//
// Design decision: reports are streamed target by target instead of being
// collected and rendered at the end, so a long run shows its first hosts
// early and an interrupted run still leaves every finished target on disk.
type Writer interface {
	// Write renders the full report of one target.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.Report) (int, error)

	// WriteSimple renders the condensed report of one target: its status,
	// counts and host list, without fingerprints or query details.
	WriteSimple(report *model.SimpleReport) (int, error)
}

// MultiWriter writes every report to several Writers in order.
// scan uses it to list URLs on stdout while a JSON or Markdown report
// goes to the --output file.
//
// Design decision: this is a separate type rather than io.MultiWriter
// because each destination renders the report in its own format; the
// writers share a report, not a byte stream.
type MultiWriter struct {
	// writers receive each report in slice order.
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write renders report with every writer and stops on the first error.
// The returned count is the sum over the writers that ran.
func (m *MultiWriter) Write(report *model.Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteSimple renders report with every writer and stops on the first error.
func (m *MultiWriter) WriteSimple(report *model.SimpleReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteSimple(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the destination shared by the concrete writers.
type baseWriter struct {
	// output receives the rendered report. Writers never close it.
	output io.Writer
}

// newBaseWriter creates a baseWriter writing to output.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
