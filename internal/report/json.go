package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/findsim/internal/model"
)

// JSONWriter writes one JSON document per target. Compact output is one
// line per target (JSON Lines).
type JSONWriter struct {
	baseWriter

	version      string
	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables indented output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables two-space indented output.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter stamping documents with version.
func NewJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
		version:    version,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSONReport is the document written per target.
type JSONReport struct {
	// Version is the findsim version that produced the document.
	Version string `json:"version"`

	// Summary is the condensed report.
	Summary *model.SimpleReport `json:"summary"`

	// Report is the full report.
	Report *model.Report `json:"report"`
}

// Write renders report with its summary.
func (w *JSONWriter) Write(report *model.Report) (int, error) {
	return w.writeJSON(&JSONReport{
		Version: w.version,
		Summary: model.NewSimpleReport(report),
		Report:  report,
	})
}

// WriteSimple renders only the condensed report.
func (w *JSONWriter) WriteSimple(report *model.SimpleReport) (int, error) {
	return w.writeJSON(report)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
