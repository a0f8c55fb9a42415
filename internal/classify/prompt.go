package classify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nao1215/findsim/internal/llm"
	"github.com/nao1215/findsim/internal/model"
)

// ErrMalformedResponse is returned when the model's answer is not the
// expected JSON document.
var ErrMalformedResponse = errors.New("malformed classification response")

const systemPrompt = `You are a website fingerprinting expert. You receive fingerprints extracted from one website: asset hashes, titles, response headers, markers and resource paths.
Label each fingerprint "generic" when it belongs to a widely reused component: CDN assets, public libraries (jquery, bootstrap, vue, react, angular), analytics and ads, social widgets, default web server banners, framework defaults.
Label it "distinctive" when it is specific to this deployment or product and useful to find other instances of the same site on an asset search engine such as FOFA.
Answer with JSON only, no prose.`

// Prompt is one classification request.
type Prompt struct {
	// Target is the site the fingerprints come from.
	Target string

	// Items are the fingerprints to label, in order.
	Items []model.Fingerprint
}

// RawVerdict is the model's label for one prompt item.
type RawVerdict struct {
	// ID is the 1-based item number the model answered for, 0 if absent.
	ID int

	// Label is the label as written by the model.
	Label string

	// Confidence is the model's confidence in [0, 1], if given.
	Confidence *float64

	// Reason is the model's short justification.
	Reason string
}

// BatchClassifier labels one batch of fingerprints. It must answer with
// one verdict per item, in item order.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, p Prompt) ([]RawVerdict, error)
}

// Completer is the chat API used by LLMClassifier.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMClassifier is a BatchClassifier backed by a chat model.
type LLMClassifier struct {
	completer Completer
}

// NewLLMClassifier creates a BatchClassifier using c.
func NewLLMClassifier(c Completer) *LLMClassifier {
	return &LLMClassifier{completer: c}
}

// ClassifyBatch implements BatchClassifier.
func (l *LLMClassifier) ClassifyBatch(ctx context.Context, p Prompt) ([]RawVerdict, error) {
	answer, err := l.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: BuildPrompt(p)},
	})
	if err != nil {
		return nil, err
	}
	return ParseVerdicts(answer)
}

// BuildPrompt renders the user message for p.
func BuildPrompt(p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target website: %s\n\n", p.Target)
	fmt.Fprintf(&b, "Fingerprints (%d):\n", len(p.Items))
	for i, fp := range p.Items {
		fmt.Fprintf(&b, "%d. [%s] %s = %q", i+1, fp.Kind, fp.Source, fp.Value)
		if fp.Context != "" && fp.Context != fp.Value {
			fmt.Fprintf(&b, " (from %s)", fp.Context)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, `
Return exactly %d verdicts, one per fingerprint, in the same order:

{"verdicts": [{"id": 1, "label": "generic" or "distinctive", "confidence": 0.0-1.0, "reason": "short reason"}]}
`, len(p.Items))
	return b.String()
}

// ParseVerdicts reads the verdict list from a model answer. Both
// {"verdicts": [...]} and a bare array are accepted. A numbered list must
// carry exactly the ids 1..n and is ordered by id; an unnumbered list
// keeps its order.
func ParseVerdicts(answer string) ([]RawVerdict, error) {
	doc := llm.ExtractJSON(answer)
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	root := gjson.Parse(doc)
	list := root.Get("verdicts")
	if !list.Exists() && root.IsArray() {
		list = root
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no verdict list", ErrMalformedResponse)
	}

	out := make([]RawVerdict, 0)
	for _, v := range list.Array() {
		rv := RawVerdict{
			ID:     int(v.Get("id").Int()),
			Label:  v.Get("label").String(),
			Reason: v.Get("reason").String(),
		}
		if c := v.Get("confidence"); c.Type == gjson.Number {
			f := c.Float()
			rv.Confidence = &f
		}
		out = append(out, rv)
	}

	if err := orderByID(out); err != nil {
		return nil, err
	}
	return out, nil
}

// orderByID sorts numbered verdicts by id.
func orderByID(vs []RawVerdict) error {
	seen := make([]bool, len(vs)+1)
	numbered := 0
	for _, v := range vs {
		if v.ID == 0 {
			continue
		}
		if v.ID < 0 || v.ID > len(vs) || seen[v.ID] {
			return fmt.Errorf("%w: verdict id %d is not one of 1..%d or repeats", ErrMalformedResponse, v.ID, len(vs))
		}
		seen[v.ID] = true
		numbered++
	}
	switch numbered {
	case 0:
		return nil
	case len(vs):
		slices.SortStableFunc(vs, func(a, b RawVerdict) int { return a.ID - b.ID })
		return nil
	default:
		return fmt.Errorf("%w: %d of %d verdicts carry an id", ErrMalformedResponse, numbered, len(vs))
	}
}

// Passthrough labels every fingerprint distinctive. It stands in for the
// model when analysis is disabled.
type Passthrough struct{}

// ClassifyBatch implements BatchClassifier.
func (Passthrough) ClassifyBatch(_ context.Context, p Prompt) ([]RawVerdict, error) {
	out := make([]RawVerdict, len(p.Items))
	for i := range p.Items {
		out[i] = RawVerdict{ID: i + 1, Label: model.LabelDistinctive.String(), Reason: "analysis disabled"}
	}
	return out, nil
}
