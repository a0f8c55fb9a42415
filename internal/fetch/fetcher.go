package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/findsim/internal/model"
)

const (
	acceptHTML   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptAny    = "*/*"
	acceptEncode = "gzip, deflate, br"
)

// Fetcher downloads a target page and the static assets it references.
// It never follows links: one call fetches one page.
type Fetcher struct {
	client          *http.Client
	userAgent       string
	maxBodySize     int64
	maxSubResources int
	concurrency     int
	logger          *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodySize sets the maximum size of a page or asset body.
func WithMaxBodySize(size int64) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxBodySize = size
		}
	}
}

// WithMaxSubResources sets the maximum number of assets fetched per page.
// Icons are not counted.
func WithMaxSubResources(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxSubResources = n
		}
	}
}

// WithConcurrency sets the number of assets fetched in parallel.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher using client for all requests.
func New(client *http.Client, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:          client,
		userAgent:       "findsim",
		maxBodySize:     5 * 1024 * 1024,
		maxSubResources: 50,
		concurrency:     5,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NormalizeTarget returns rawURL with an http scheme added when it has none.
func NormalizeTarget(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}
	return u.String(), nil
}

// Fetch downloads rawURL and its sub-resources.
//
// A transport failure returns a nil page and a *model.FetchError. A non-2xx
// response returns both the page and a *model.FetchError so the caller can
// decide whether the page is still usable. Asset failures are recorded on
// the corresponding SubResource and never fail the page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.Page, error) {
	target, err := NormalizeTarget(rawURL)
	if err != nil {
		return nil, &model.FetchError{URL: rawURL, Err: err}
	}

	resp, body, err := f.get(ctx, target, acceptHTML)
	if err != nil {
		return nil, &model.FetchError{URL: target, Err: err}
	}

	page := &model.Page{
		URL:         target,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}
	if page.IsHTML() {
		page.Body = toUTF8(body, page.ContentType)
	}

	var statusErr error
	if !isSuccess(resp.StatusCode) {
		statusErr = &model.FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	f.logger.Debug("fetched page",
		"url", target,
		"status", resp.StatusCode,
		"bytes", len(page.Body),
	)

	if !page.HasBody() {
		return page, statusErr
	}

	var assets []Asset
	var icons []string
	if page.IsHTML() {
		assets, icons = Discover(page.BaseURL(), page.Body)
	} else {
		icons = fallbackIcons(page.BaseURL(), nil)
	}
	if len(assets) > f.maxSubResources {
		f.logger.Debug("asset list truncated", "url", target, "found", len(assets), "limit", f.maxSubResources)
		assets = assets[:f.maxSubResources]
	}

	page.SubResources = f.fetchAssets(ctx, assets, icons)
	return page, statusErr
}

// fetchAssets downloads assets concurrently and the first available icon.
// Results keep the order of assets, with the icon last.
func (f *Fetcher) fetchAssets(ctx context.Context, assets []Asset, icons []string) []model.SubResource {
	results := make([]model.SubResource, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, a := range assets {
		g.Go(func() error {
			results[i] = f.fetchAsset(gctx, a)
			return nil
		})
	}

	var icon *model.SubResource
	if len(icons) > 0 {
		g.Go(func() error {
			icon = f.fetchIcon(gctx, icons)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // asset errors are recorded per resource

	if icon != nil {
		results = append(results, *icon)
	}
	return results
}

// fetchIcon tries each icon location in order and returns the first one
// with content, or the last failure.
func (f *Fetcher) fetchIcon(ctx context.Context, icons []string) *model.SubResource {
	var last model.SubResource
	for _, u := range icons {
		last = f.fetchAsset(ctx, Asset{URL: u, Type: model.ResourceIcon})
		if last.Available() {
			return &last
		}
		if ctx.Err() != nil {
			break
		}
	}
	return &last
}

func (f *Fetcher) fetchAsset(ctx context.Context, a Asset) model.SubResource {
	sr := model.SubResource{URL: a.URL, Type: a.Type}

	resp, body, err := f.get(ctx, a.URL, acceptAny)
	if err != nil {
		sr.Err = &model.FetchError{URL: a.URL, Err: err}
		sr.Error = sr.Err.Error()
		f.logger.Debug("asset fetch failed", "url", a.URL, "error", err)
		return sr
	}

	sr.StatusCode = resp.StatusCode
	sr.ContentType = resp.Header.Get("Content-Type")
	if !isSuccess(resp.StatusCode) {
		sr.Err = &model.FetchError{URL: a.URL, StatusCode: resp.StatusCode}
		sr.Error = sr.Err.Error()
		return sr
	}
	sr.Body = body
	return sr
}

// get performs a GET and returns the response with its decoded body.
// The response body is already closed.
func (f *Fetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", acceptEncode)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, nil, err
	}

	encoding := resp.Header.Get("Content-Encoding")
	body, err := decodeContent(encoding, raw, f.maxBodySize)
	if err != nil {
		f.logger.Debug("content decoding failed, keeping raw body",
			"url", rawURL,
			"encoding", encoding,
			"error", err,
		)
		body = raw
	}
	return resp, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
