package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/findsim/internal/llm"
	"github.com/nao1215/findsim/internal/model"
)

// stubBackend labels fingerprints whose value starts with "lib" generic.
type stubBackend struct {
	mu    sync.Mutex
	calls []int
	fn    func(p Prompt) ([]RawVerdict, error)
}

func (s *stubBackend) ClassifyBatch(_ context.Context, p Prompt) ([]RawVerdict, error) {
	s.mu.Lock()
	s.calls = append(s.calls, len(p.Items))
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(p)
	}
	return labelByPrefix(p), nil
}

func (s *stubBackend) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

func labelByPrefix(p Prompt) []RawVerdict {
	out := make([]RawVerdict, len(p.Items))
	for i, fp := range p.Items {
		label := "distinctive"
		if strings.HasPrefix(fp.Value, "lib") {
			label = "generic"
		}
		out[i] = RawVerdict{ID: i + 1, Label: label}
	}
	return out
}

func candidates(values ...string) *model.CandidateSet {
	set := model.NewCandidateSet()
	for _, v := range values {
		set.Add(model.Fingerprint{Kind: model.KindExactString, Value: v, Source: model.SourceTitle})
	}
	return set
}

func numbered(n int) *model.CandidateSet {
	values := make([]string, n)
	for i := range values {
		if i%3 == 0 {
			values[i] = fmt.Sprintf("lib-%02d", i)
		} else {
			values[i] = fmt.Sprintf("own-%02d", i)
		}
	}
	return candidates(values...)
}

func TestClassifier_Classify(t *testing.T) {
	t.Parallel()

	t.Run("verdicts follow candidate order across concurrent batches", func(t *testing.T) {
		t.Parallel()

		backend := &stubBackend{fn: func(p Prompt) ([]RawVerdict, error) {
			// Later batches answer first.
			if strings.HasSuffix(p.Items[0].Value, "00") {
				time.Sleep(20 * time.Millisecond)
			}
			return labelByPrefix(p), nil
		}}
		set := numbered(10)
		verdicts, err := New(backend, WithBatchSize(3), WithConcurrency(4)).Classify(context.Background(), set, "https://t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(verdicts) != set.Len() {
			t.Fatalf("expected %d verdicts, got %d", set.Len(), len(verdicts))
		}
		for i, fp := range set.Items() {
			if verdicts[i].Fingerprint.Key() != fp.Key() {
				t.Errorf("verdict %d is for %v, want %v", i, verdicts[i].Fingerprint.Key(), fp.Key())
			}
			wantGeneric := strings.HasPrefix(fp.Value, "lib")
			if (verdicts[i].Label == model.LabelGeneric) != wantGeneric {
				t.Errorf("verdict %d label %v", i, verdicts[i].Label)
			}
		}
		if got := len(backend.batchSizes()); got != 4 {
			t.Errorf("expected 4 batches, got %d", got)
		}
	})

	t.Run("empty candidate set", func(t *testing.T) {
		t.Parallel()
		verdicts, err := New(&stubBackend{}).Classify(context.Background(), model.NewCandidateSet(), "t")
		if err != nil || len(verdicts) != 0 {
			t.Errorf("expected no verdicts, got %v %v", verdicts, err)
		}
	})

	t.Run("shape mismatch is retried with halved batches", func(t *testing.T) {
		t.Parallel()

		backend := &stubBackend{fn: func(p Prompt) ([]RawVerdict, error) {
			if len(p.Items) > 2 {
				return labelByPrefix(p)[:1], nil
			}
			return labelByPrefix(p), nil
		}}
		set := numbered(4)
		verdicts, err := New(backend, WithBatchSize(4)).Classify(context.Background(), set, "t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if Degraded(verdicts) {
			t.Error("retry succeeded, verdicts should not be fail-open")
		}
		if verdicts[0].Label != model.LabelGeneric || verdicts[3].Label != model.LabelGeneric {
			t.Errorf("unexpected labels %+v", verdicts)
		}
		sizes := backend.batchSizes()
		if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 2 || sizes[2] != 2 {
			t.Errorf("unexpected batch sizes %v", sizes)
		}
	})

	t.Run("persistent shape mismatch fails open", func(t *testing.T) {
		t.Parallel()

		backend := &stubBackend{fn: func(Prompt) ([]RawVerdict, error) {
			return []RawVerdict{}, nil
		}}
		set := numbered(5)
		verdicts, err := New(backend, WithBatchSize(5)).Classify(context.Background(), set, "t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(verdicts) != 5 {
			t.Fatalf("expected 5 verdicts, got %d", len(verdicts))
		}
		for i, v := range verdicts {
			if !v.Distinctive() || !v.FailOpen {
				t.Errorf("verdict %d should be fail-open distinctive: %+v", i, v)
			}
		}
		// One full batch, then one retry per half (3 and 2).
		if sizes := backend.batchSizes(); len(sizes) != 3 {
			t.Errorf("expected 3 calls, got %v", sizes)
		}
	})

	t.Run("malformed answer is retried like a shape mismatch", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		first := true
		backend := &stubBackend{fn: func(p Prompt) ([]RawVerdict, error) {
			mu.Lock()
			defer mu.Unlock()
			if first {
				first = false
				return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
			}
			return labelByPrefix(p), nil
		}}
		verdicts, err := New(backend, WithBatchSize(4)).Classify(context.Background(), numbered(4), "t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if Degraded(verdicts) {
			t.Error("retry succeeded, verdicts should not be fail-open")
		}
	})

	t.Run("api failure fails open without retry", func(t *testing.T) {
		t.Parallel()

		backend := &stubBackend{fn: func(Prompt) ([]RawVerdict, error) {
			return nil, &model.LLMError{StatusCode: 429, RateLimited: true}
		}}
		verdicts, err := New(backend, WithBatchSize(10)).Classify(context.Background(), numbered(3), "t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !Degraded(verdicts) || len(verdicts) != 3 {
			t.Errorf("expected 3 fail-open verdicts, got %+v", verdicts)
		}
		if sizes := backend.batchSizes(); len(sizes) != 1 {
			t.Errorf("expected a single call, got %v", sizes)
		}
	})

	t.Run("unknown label fails open for that item", func(t *testing.T) {
		t.Parallel()

		backend := &stubBackend{fn: func(Prompt) ([]RawVerdict, error) {
			return []RawVerdict{{Label: "generic"}, {Label: "maybe"}}, nil
		}}
		verdicts, err := New(backend).Classify(context.Background(), candidates("a", "b"), "t")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if verdicts[0].Label != model.LabelGeneric || verdicts[0].FailOpen {
			t.Errorf("first verdict %+v", verdicts[0])
		}
		if !verdicts[1].Distinctive() || !verdicts[1].FailOpen {
			t.Errorf("second verdict %+v", verdicts[1])
		}
	})

	t.Run("cancellation is an error", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		backend := &stubBackend{fn: func(Prompt) ([]RawVerdict, error) {
			cancel()
			return nil, context.Canceled
		}}
		_, err := New(backend).Classify(ctx, numbered(3), "t")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestFilter(t *testing.T) {
	t.Parallel()

	fp := func(v string) model.Fingerprint {
		return model.Fingerprint{Kind: model.KindExactString, Value: v}
	}

	t.Run("keeps distinctive in order", func(t *testing.T) {
		t.Parallel()
		got, err := Filter([]model.Verdict{
			{Fingerprint: fp("a"), Label: model.LabelDistinctive},
			{Fingerprint: fp("b"), Label: model.LabelGeneric},
			{Fingerprint: fp("c"), Label: model.LabelDistinctive, FailOpen: true},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].Value != "a" || got[1].Value != "c" {
			t.Errorf("unexpected result %v", got)
		}
	})

	t.Run("all generic", func(t *testing.T) {
		t.Parallel()
		_, err := Filter([]model.Verdict{
			{Fingerprint: fp("a"), Label: model.LabelGeneric},
			{Fingerprint: fp("b"), Label: model.LabelGeneric},
		})
		if !errors.Is(err, model.ErrNoDistinctiveFingerprint) {
			t.Errorf("expected ErrNoDistinctiveFingerprint, got %v", err)
		}
	})

	t.Run("drops paths of generic assets", func(t *testing.T) {
		t.Parallel()
		const jquery = "https://t.example/js/jquery.js"
		const app = "https://t.example/js/app.js"
		got, err := Filter([]model.Verdict{
			{Fingerprint: model.Fingerprint{Kind: model.KindHash, Value: "111", Source: model.SourceScript, Context: jquery}, Label: model.LabelGeneric},
			{Fingerprint: model.Fingerprint{Kind: model.KindExactString, Value: "/js/jquery.js", Source: "path:script", Context: jquery}, Label: model.LabelDistinctive},
			{Fingerprint: model.Fingerprint{Kind: model.KindHash, Value: "222", Source: model.SourceScript, Context: app}, Label: model.LabelDistinctive},
			{Fingerprint: model.Fingerprint{Kind: model.KindExactString, Value: "/js/app.js", Source: "path:script", Context: app}, Label: model.LabelDistinctive},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].Value != "222" || got[1].Value != "/js/app.js" {
			t.Errorf("unexpected result %v", got)
		}
	})

	t.Run("only paths of generic assets left", func(t *testing.T) {
		t.Parallel()
		const jquery = "https://t.example/jquery.js"
		_, err := Filter([]model.Verdict{
			{Fingerprint: model.Fingerprint{Kind: model.KindHash, Value: "111", Source: model.SourceScript, Context: jquery}, Label: model.LabelGeneric},
			{Fingerprint: model.Fingerprint{Kind: model.KindExactString, Value: "/jquery.js", Source: "path:script", Context: jquery}, Label: model.LabelDistinctive},
		})
		if !errors.Is(err, model.ErrNoDistinctiveFingerprint) {
			t.Errorf("expected ErrNoDistinctiveFingerprint, got %v", err)
		}
	})

	t.Run("no verdicts", func(t *testing.T) {
		t.Parallel()
		got, err := Filter(nil)
		if err != nil || len(got) != 0 {
			t.Errorf("unexpected %v %v", got, err)
		}
	})
}

func TestPassthrough(t *testing.T) {
	t.Parallel()

	verdicts, err := New(Passthrough{}, WithBatchSize(2)).Classify(context.Background(), candidates("lib-a", "b", "c"), "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range verdicts {
		if !v.Distinctive() || v.FailOpen {
			t.Errorf("unexpected verdict %+v", v)
		}
	}
}

func TestParseVerdicts(t *testing.T) {
	t.Parallel()

	t.Run("fenced object ordered by id", func(t *testing.T) {
		t.Parallel()
		answer := "```json\n{\"verdicts\":[{\"id\":2,\"label\":\"generic\",\"confidence\":0.9,\"reason\":\"jquery\"},{\"id\":1,\"label\":\"distinctive\"}]}\n```"
		got, err := ParseVerdicts(answer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].ID != 1 || got[1].Label != "generic" {
			t.Fatalf("unexpected verdicts %+v", got)
		}
		if got[1].Confidence == nil || *got[1].Confidence != 0.9 || got[1].Reason != "jquery" {
			t.Errorf("unexpected second verdict %+v", got[1])
		}
		if got[0].Confidence != nil {
			t.Error("missing confidence should stay nil")
		}
	})

	t.Run("bare array keeps order without ids", func(t *testing.T) {
		t.Parallel()
		got, err := ParseVerdicts(`[{"label":"generic"},{"label":"distinctive"}]`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].Label != "generic" {
			t.Errorf("unexpected verdicts %+v", got)
		}
	})

	t.Run("ids must be exactly one to n", func(t *testing.T) {
		t.Parallel()
		for _, answer := range []string{
			`[{"id":1,"label":"generic"},{"id":2,"label":"generic"},{"id":7,"label":"distinctive"}]`,
			`[{"id":1,"label":"generic"},{"id":1,"label":"distinctive"}]`,
			`[{"id":2,"label":"generic"},{"label":"distinctive"}]`,
			`[{"id":-1,"label":"generic"}]`,
		} {
			if _, err := ParseVerdicts(answer); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("ParseVerdicts(%s) error = %v, want ErrMalformedResponse", answer, err)
			}
		}
	})

	t.Run("malformed answers", func(t *testing.T) {
		t.Parallel()
		for _, answer := range []string{"I cannot help", `{"result": "ok"}`, `{"verdicts": [`} {
			if _, err := ParseVerdicts(answer); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("ParseVerdicts(%q) error = %v", answer, err)
			}
		}
	})
}

type stubCompleter struct {
	answer   string
	messages []llm.Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []llm.Message) (string, error) {
	s.messages = messages
	return s.answer, nil
}

// numberingCompleter answers the first call with out-of-range ids and
// every later call with one distinctive verdict per listed fingerprint.
type numberingCompleter struct {
	mu    sync.Mutex
	calls int
}

func (c *numberingCompleter) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return `[{"id":1,"label":"generic"},{"id":2,"label":"generic"},{"id":7,"label":"generic"}]`, nil
	}

	user := messages[len(messages)-1].Content
	var n int
	if i := strings.Index(user, "Fingerprints ("); i >= 0 {
		_, _ = fmt.Sscanf(user[i:], "Fingerprints (%d)", &n)
	}
	parts := make([]string, n)
	for j := range parts {
		parts[j] = fmt.Sprintf(`{"id":%d,"label":"distinctive"}`, j+1)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func TestLLMClassifier_UnknownIDsAreRetried(t *testing.T) {
	t.Parallel()

	completer := &numberingCompleter{}
	verdicts, err := New(NewLLMClassifier(completer), WithBatchSize(3)).Classify(context.Background(), numbered(3), "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Degraded(verdicts) {
		t.Errorf("retry succeeded, verdicts should not be fail-open: %+v", verdicts)
	}
	for i, v := range verdicts {
		if v.Label != model.LabelDistinctive {
			t.Errorf("verdict %d kept a label from the rejected answer: %+v", i, v)
		}
	}
	// One full batch, then one retry per half (2 and 1).
	if completer.calls != 3 {
		t.Errorf("expected 3 calls, got %d", completer.calls)
	}
}

func TestLLMClassifier(t *testing.T) {
	t.Parallel()

	completer := &stubCompleter{answer: `{"verdicts":[{"id":1,"label":"distinctive"},{"id":2,"label":"generic"}]}`}
	p := Prompt{
		Target: "https://t.example",
		Items: []model.Fingerprint{
			{Kind: model.KindHeaderPair, Value: "X-Powered-By: CustomCMS/3.2", Source: "header:X-Powered-By"},
			{Kind: model.KindHash, Value: "abc", Source: model.SourceScript, Context: "https://cdn.example/jquery.js"},
		},
	}

	got, err := NewLLMClassifier(completer).ClassifyBatch(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Label != "generic" {
		t.Errorf("unexpected verdicts %+v", got)
	}

	if len(completer.messages) != 2 || completer.messages[0].Role != llm.RoleSystem {
		t.Fatalf("unexpected messages %+v", completer.messages)
	}
	user := completer.messages[1].Content
	for _, want := range []string{"https://t.example", `X-Powered-By: CustomCMS/3.2`, "(from https://cdn.example/jquery.js)", "exactly 2 verdicts"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt misses %q:\n%s", want, user)
		}
	}
}
