package search

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/nao1215/findsim/internal/model"
)

// maxResponseSize bounds a search API response body.
const maxResponseSize = 32 * 1024 * 1024

// DefaultFOFAFields are the record fields requested from FOFA.
var DefaultFOFAFields = []string{"host", "ip", "port", "protocol", "title"}

// FOFAClient is an API backed by the FOFA search-all endpoint.
type FOFAClient struct {
	httpClient *http.Client
	baseURL    string
	key        string
	pageSize   int
	fields     []string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// FOFAOption configures a FOFAClient.
type FOFAOption func(*FOFAClient)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) FOFAOption {
	return func(c *FOFAClient) {
		c.httpClient = hc
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) FOFAOption {
	return func(c *FOFAClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPageSize sets the number of records requested per page.
func WithPageSize(n int) FOFAOption {
	return func(c *FOFAClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithFields sets the requested record fields. The host field must be
// among them.
func WithFields(fields []string) FOFAOption {
	return func(c *FOFAClient) {
		if len(fields) > 0 {
			c.fields = fields
		}
	}
}

// WithRate limits requests per second. Zero or less disables limiting.
func WithRate(perSecond float64) FOFAOption {
	return func(c *FOFAClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithFOFALogger sets the logger.
func WithFOFALogger(logger *slog.Logger) FOFAOption {
	return func(c *FOFAClient) {
		c.logger = logger
	}
}

// NewFOFAClient creates a client authenticating with key.
func NewFOFAClient(key string, opts ...FOFAOption) *FOFAClient {
	c := &FOFAClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://fofa.info",
		key:        key,
		pageSize:   100,
		fields:     DefaultFOFAFields,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements API. Page tokens are 1-based page numbers.
func (c *FOFAClient) Search(ctx context.Context, query, pageToken string) (*Page, error) {
	page := 1
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 1 {
			return nil, &model.SearchAPIError{Kind: model.SearchInvalidQuery, Message: "invalid page token " + strconv.Quote(pageToken)}
		}
		page = n
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &model.SearchAPIError{Kind: model.SearchTransport, Err: err}
	}

	params := url.Values{}
	params.Set("key", c.key)
	params.Set("qbase64", base64.StdEncoding.EncodeToString([]byte(query)))
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(c.pageSize))
	params.Set("fields", strings.Join(c.fields, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/search/all?"+params.Encode(), nil)
	if err != nil {
		return nil, &model.SearchAPIError{Kind: model.SearchTransport, Err: stripURL(err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.SearchAPIError{Kind: model.SearchTransport, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &model.SearchAPIError{Kind: model.SearchTransport, StatusCode: resp.StatusCode, Err: stripURL(err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, &model.SearchAPIError{Kind: model.SearchServer, StatusCode: resp.StatusCode, Message: "response is not JSON"}
	}

	doc := gjson.ParseBytes(body)
	if doc.Get("error").Bool() {
		msg := doc.Get("errmsg").String()
		return nil, &model.SearchAPIError{Kind: classifyMessage(msg), StatusCode: resp.StatusCode, Message: msg}
	}

	total := int(doc.Get("size").Int())
	rows := doc.Get("results").Array()
	out := &Page{Total: total, Records: make([]model.SearchResult, 0, len(rows))}
	for _, row := range rows {
		out.Records = append(out.Records, c.record(row))
	}
	if len(rows) > 0 && page*c.pageSize < total {
		out.NextPageToken = strconv.Itoa(page + 1)
	}

	c.logger.Debug("search page",
		"query", query,
		"page", page,
		"records", len(rows),
		"total", total,
	)
	return out, nil
}

// record maps a result row to a SearchResult. With a single requested
// field FOFA returns bare strings instead of arrays.
func (c *FOFAClient) record(row gjson.Result) model.SearchResult {
	raw := make(map[string]string, len(c.fields))
	if row.IsArray() {
		values := row.Array()
		for i, f := range c.fields {
			if i < len(values) {
				raw[f] = values[i].String()
			}
		}
	} else {
		raw[c.fields[0]] = row.String()
	}

	r := model.SearchResult{
		Host:     raw["host"],
		IP:       raw["ip"],
		Port:     raw["port"],
		Protocol: raw["protocol"],
		Title:    raw["title"],
		Raw:      raw,
	}
	r.URL = DisplayURL(r.Host, r.Protocol)
	return r
}

// DisplayURL returns a browsable address for a record: host when it
// already carries a scheme, protocol://host otherwise.
func DisplayURL(host, protocol string) string {
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		return host
	}
	if protocol == "" {
		protocol = "http"
	}
	return protocol + "://" + host
}

func statusError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "errmsg").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	e := &model.SearchAPIError{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = model.SearchRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = model.SearchAuth
	case status >= http.StatusInternalServerError:
		e.Kind = model.SearchServer
	case status == http.StatusBadRequest:
		e.Kind = classifyMessage(msg)
		if e.Kind == model.SearchServer {
			e.Kind = model.SearchInvalidQuery
		}
	default:
		e.Kind = classifyMessage(msg)
	}
	return e
}

// classifyMessage maps a FOFA errmsg to an error kind.
func classifyMessage(msg string) model.SearchErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "too many", "too fast", "rate limit", "429", "频繁"):
		return model.SearchRateLimited
	case containsAny(lower, "account invalid", "-700", "401", "key", "auth", "账号"):
		return model.SearchAuth
	case containsAny(lower, "syntax", "query", "820000", "语法"):
		return model.SearchInvalidQuery
	default:
		return model.SearchServer
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// stripURL drops the request URL from net/http errors. It carries the API
// key in its query string.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request: %w", ue.Op, ue.Err)
	}
	return err
}
