package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/findsim/internal/model"
)

// Marker is a named pattern whose matches in the page body are fingerprints.
// The first capture group is used when present, the whole match otherwise.
type Marker struct {
	Name    string
	Pattern *regexp.Regexp
}

// NewMarker compiles a marker pattern.
func NewMarker(name, pattern string) (Marker, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Marker{}, fmt.Errorf("marker %q: %w", name, err)
	}
	return Marker{Name: name, Pattern: re}, nil
}

// maxMarkerMatches bounds the fingerprints one marker can produce.
const maxMarkerMatches = 5

// Extractor turns a fetched page into candidate fingerprints.
// It holds no per-page state and is safe for concurrent use.
type Extractor struct {
	headers      []string
	markers      []Marker
	includePaths bool
	logger       *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHeaders sets the response headers turned into header fingerprints.
func WithHeaders(names []string) Option {
	return func(e *Extractor) {
		e.headers = names
	}
}

// WithMarkers sets the marker patterns searched in the page body.
func WithMarkers(markers []Marker) Option {
	return func(e *Extractor) {
		e.markers = markers
	}
}

// WithPaths enables resource path fingerprints.
func WithPaths(enabled bool) Option {
	return func(e *Extractor) {
		e.includePaths = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor. By default it fingerprints the Server and
// X-Powered-By headers, uses no markers and includes resource paths.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		headers:      []string{"Server", "X-Powered-By"},
		includePaths: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the candidate fingerprints of page, deduplicated by
// (Kind, Value). A page without body yields an empty set. Assets that
// failed to download are skipped.
func (e *Extractor) Extract(page *model.Page) *model.CandidateSet {
	set := model.NewCandidateSet()
	if !page.HasBody() {
		return set
	}

	e.addAssetHashes(set, page)
	if page.IsHTML() {
		e.addDocumentStrings(set, page)
	}
	e.addHeaders(set, page.Headers)
	e.addMarkers(set, page.Body)
	if e.includePaths {
		e.addPaths(set, page)
	}

	e.logger.Debug("extracted fingerprints", "url", page.URL, "count", set.Len())
	return set
}

func (e *Extractor) addAssetHashes(set *model.CandidateSet, page *model.Page) {
	for _, sr := range page.SubResources {
		if !sr.Available() {
			continue
		}
		fp := model.Fingerprint{Kind: model.KindHash, Context: sr.URL}
		switch sr.Type {
		case model.ResourceIcon:
			fp.Value = FaviconHash(sr.Body)
			fp.Source = model.SourceFavicon
		case model.ResourceScript:
			fp.Value = ContentHash(sr.Body)
			fp.Source = model.SourceScript
		case model.ResourceStylesheet:
			fp.Value = ContentHash(sr.Body)
			fp.Source = model.SourceStylesheet
		case model.ResourceImage:
			fp.Value = ContentHash(sr.Body)
			fp.Source = model.SourceImage
		default:
			continue
		}
		set.Add(fp)
	}
}

func (e *Extractor) addDocumentStrings(set *model.CandidateSet, page *model.Page) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		e.logger.Debug("html parse failed", "url", page.URL, "error", err)
		return
	}

	if title := Normalize(doc.Find("title").First().Text()); title != "" {
		set.Add(model.Fingerprint{
			Kind:   model.KindExactString,
			Value:  title,
			Source: model.SourceTitle,
		})
	}

	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "generator") {
			return
		}
		content, _ := s.Attr("content")
		if v := Normalize(content); v != "" {
			set.Add(model.Fingerprint{
				Kind:   model.KindExactString,
				Value:  v,
				Source: model.SourceMeta + ":generator",
			})
		}
	})
}

func (e *Extractor) addHeaders(set *model.CandidateSet, headers http.Header) {
	for _, name := range e.headers {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		for _, raw := range headers.Values(canonical) {
			v := Normalize(raw)
			if v == "" {
				continue
			}
			set.Add(model.Fingerprint{
				Kind:   model.KindHeaderPair,
				Value:  canonical + ": " + v,
				Source: model.SourceHeader + ":" + canonical,
			})
		}
	}
}

func (e *Extractor) addMarkers(set *model.CandidateSet, body []byte) {
	for _, m := range e.markers {
		if m.Pattern == nil {
			continue
		}
		for _, match := range m.Pattern.FindAllSubmatch(body, maxMarkerMatches) {
			raw := match[0]
			if len(match) > 1 && len(match[1]) > 0 {
				raw = match[1]
			}
			v := Normalize(string(raw))
			if v == "" {
				continue
			}
			set.Add(model.Fingerprint{
				Kind:   model.KindExactString,
				Value:  v,
				Source: model.SourceMarker + ":" + m.Name,
			})
		}
	}
}

// addPaths adds the paths of same-origin scripts and stylesheets. Query
// strings are dropped: they usually carry cache-busting versions.
func (e *Extractor) addPaths(set *model.CandidateSet, page *model.Page) {
	base := page.BaseURL()
	for _, sr := range page.SubResources {
		if sr.Type != model.ResourceScript && sr.Type != model.ResourceStylesheet {
			continue
		}
		if !sameOrigin(base.Scheme, base.Host, sr.URL) {
			continue
		}
		p := sr.Path()
		if p == "" || p == "/" {
			continue
		}
		set.Add(model.Fingerprint{
			Kind:    model.KindExactString,
			Value:   p,
			Source:  model.SourcePath + ":" + string(sr.Type),
			Context: sr.URL,
		})
	}
}

func sameOrigin(scheme, host, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host) && (u.Scheme == scheme || scheme == "")
}
