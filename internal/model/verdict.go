package model

import (
	"fmt"
	"strings"
)

// Label is the classifier's decision for a fingerprint.
// The zero value is LabelDistinctive so that an unclassified fingerprint
// is kept rather than dropped.
type Label int

const (
	// LabelDistinctive marks a fingerprint specific to the target deployment.
	LabelDistinctive Label = iota

	// LabelGeneric marks a fingerprint of a widely reused component.
	LabelGeneric
)

// String returns the lowercase label name.
func (l Label) String() string {
	switch l {
	case LabelDistinctive:
		return "distinctive"
	case LabelGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLabel converts a label name into a Label. A few synonyms that
// language models tend to answer with are accepted.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "distinctive", "unique", "specific", "custom":
		return LabelDistinctive, nil
	case "generic", "common", "library", "framework":
		return LabelGeneric, nil
	default:
		return LabelDistinctive, fmt.Errorf("unknown label %q", s)
	}
}

// Verdict is the classification of one fingerprint.
type Verdict struct {
	// Fingerprint is the classified fingerprint.
	Fingerprint Fingerprint `json:"fingerprint"`

	// Label is generic or distinctive.
	Label Label `json:"label"`

	// Confidence is the model's confidence in [0, 1], when it gave one.
	Confidence *float64 `json:"confidence,omitempty"`

	// Reason is the model's short explanation, when it gave one.
	Reason string `json:"reason,omitempty"`

	// FailOpen is true when the label was not produced by the model but
	// defaulted to distinctive after a classification failure.
	FailOpen bool `json:"fail_open,omitempty"`
}

// Distinctive reports whether the verdict keeps the fingerprint.
func (v Verdict) Distinctive() bool {
	return v.Label == LabelDistinctive
}
