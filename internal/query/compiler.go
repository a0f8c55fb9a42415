package query

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/nao1215/findsim/internal/model"
)

// DefaultFields maps fingerprint sources to FOFA fields. Lookup tries the
// full source ("path:script") first, then its category ("path").
// Stylesheet and image hashes have no FOFA field and are skipped unless
// a mapping is configured.
var DefaultFields = map[string]string{
	model.SourceFavicon:          "icon_hash",
	model.SourceScript:           "js_md5",
	model.SourcePath + ":script": "js_name",
	model.SourcePath:             "body",
	model.SourceTitle:            "title",
	model.SourceMeta:             "body",
	model.SourceHeader:           "header",
	model.SourceMarker:           "body",
}

// Selectivity estimates how few hosts a fingerprint matches. Higher is
// more selective.
type Selectivity func(model.Fingerprint) float64

// DefaultSelectivity ranks hashes first, then header pairs, markers, paths
// and other strings. Within a kind shorter values rank higher.
func DefaultSelectivity(fp model.Fingerprint) float64 {
	if fp.Kind == model.KindHash {
		if fp.Category() == model.SourceFavicon {
			return 100
		}
		return 95
	}

	var base float64
	switch {
	case fp.Kind == model.KindHeaderPair:
		base = 80
	case fp.Category() == model.SourceMarker:
		base = 70
	case fp.Category() == model.SourcePath:
		base = 60
	default:
		base = 40
	}
	n := min(utf8.RuneCountInString(fp.Value), 200)
	return base - float64(n)/20
}

// Compiler turns distinctive fingerprints into search queries.
type Compiler struct {
	fields          map[string]string
	maxQueries      int
	minStrongLength int
	selectivity     Selectivity
	logger          *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithFields overrides or extends the source-to-field mapping.
// An empty field name removes a mapping.
func WithFields(fields map[string]string) Option {
	return func(c *Compiler) {
		for k, v := range fields {
			if v == "" {
				delete(c.fields, k)
				continue
			}
			c.fields[k] = v
		}
	}
}

// WithMaxQueries sets the maximum number of compiled queries.
func WithMaxQueries(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxQueries = n
		}
	}
}

// WithMinStrongLength sets the rune length from which a plain string is
// selective enough to be queried alone.
func WithMinStrongLength(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.minStrongLength = n
		}
	}
}

// WithSelectivity replaces the ranking heuristic.
func WithSelectivity(s Selectivity) Option {
	return func(c *Compiler) {
		if s != nil {
			c.selectivity = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// New creates a Compiler with the FOFA field mapping.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		fields:          maps.Clone(DefaultFields),
		maxQueries:      10,
		minStrongLength: 24,
		selectivity:     DefaultSelectivity,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Field returns the search field for fp, or "" when fp cannot be queried.
func (c *Compiler) Field(fp model.Fingerprint) string {
	if f, ok := c.fields[fp.Source]; ok {
		return f
	}
	return c.fields[fp.Category()]
}

// Strong reports whether fp is selective enough to be queried alone.
func (c *Compiler) Strong(fp model.Fingerprint) bool {
	switch {
	case fp.Kind == model.KindHash, fp.Kind == model.KindHeaderPair:
		return true
	case fp.Category() == model.SourceMarker, fp.Category() == model.SourcePath:
		return true
	default:
		return utf8.RuneCountInString(fp.Value) >= c.minStrongLength
	}
}

type clause struct {
	fp   model.Fingerprint
	term Term
}

// Compile builds queries from distinctive fingerprints.
//
// Strong fingerprints are queried alone. Weak ones are AND-ed in pairs; an
// unpaired weak fingerprint is AND-ed with the best other fingerprint, or
// queried alone and marked Broad when it is the only one. Fingerprints are
// taken in selectivity order and the result is truncated to the maximum
// query count. Compile never returns an empty query; when nothing can be
// queried it returns model.ErrNoQueryProducible.
func (c *Compiler) Compile(distinctive []model.Fingerprint) ([]model.Query, error) {
	clauses := make([]clause, 0, len(distinctive))
	for _, fp := range distinctive {
		field := c.Field(fp)
		if field == "" || fp.Value == "" {
			c.logger.Debug("fingerprint has no search field", "source", fp.Source, "kind", fp.Kind)
			continue
		}
		clauses = append(clauses, clause{fp: fp, term: Term{Field: field, Value: fp.Value}})
	}
	if len(clauses) == 0 {
		return nil, model.ErrNoQueryProducible
	}

	slices.SortStableFunc(clauses, func(a, b clause) int {
		return cmp.Compare(c.selectivity(b.fp), c.selectivity(a.fp))
	})

	var strong, weak []clause
	for _, cl := range clauses {
		if c.Strong(cl.fp) {
			strong = append(strong, cl)
		} else {
			weak = append(weak, cl)
		}
	}

	b := &builder{seen: make(map[string]bool)}
	for _, cl := range strong {
		b.add(false, cl)
	}
	for i := 0; i+1 < len(weak); i += 2 {
		b.add(false, weak[i], weak[i+1])
	}
	if len(weak)%2 == 1 {
		last := weak[len(weak)-1]
		switch {
		case len(strong) > 0:
			b.add(false, last, strong[0])
		case len(weak) > 1:
			b.add(false, last, weak[0])
		default:
			b.add(true, last)
		}
	}

	queries := b.queries
	if len(queries) > c.maxQueries {
		c.logger.Debug("query list truncated", "compiled", len(queries), "limit", c.maxQueries)
		queries = queries[:c.maxQueries]
	}
	return queries, nil
}

type builder struct {
	queries []model.Query
	seen    map[string]bool
}

func (b *builder) add(broad bool, clauses ...clause) {
	expr := make(And, 0, len(clauses))
	refs := make([]model.Fingerprint, 0, len(clauses))
	for _, cl := range clauses {
		expr = append(expr, cl.term)
		refs = append(refs, cl.fp)
	}
	text := expr.Render()
	if text == "" || b.seen[text] {
		return
	}
	b.seen[text] = true
	b.queries = append(b.queries, model.Query{Text: text, Refs: refs, Broad: broad})
}
