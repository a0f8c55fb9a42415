package model

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ResourceType is the role a sub-resource plays on the page.
type ResourceType string

const (
	// ResourceScript is a <script src>.
	ResourceScript ResourceType = "script"

	// ResourceStylesheet is a <link rel="stylesheet">.
	ResourceStylesheet ResourceType = "stylesheet"

	// ResourceImage is an <img src>.
	ResourceImage ResourceType = "image"

	// ResourceIcon is a favicon, declared or at /favicon.ico.
	ResourceIcon ResourceType = "icon"
)

// SubResource is a static asset referenced by a page.
type SubResource struct {
	// URL is the absolute asset URL.
	URL string `json:"url"`

	// Type is the asset role.
	Type ResourceType `json:"type"`

	// StatusCode is the HTTP status of the asset fetch, 0 if none.
	StatusCode int `json:"status_code,omitempty"`

	// ContentType is the asset's Content-Type.
	ContentType string `json:"content_type,omitempty"`

	// Body is the decoded asset content.
	Body []byte `json:"-"`

	// Err is set when the asset could not be fetched.
	Err error `json:"-"`

	// Error is Err rendered for serialization.
	Error string `json:"error,omitempty"`
}

// Available reports whether the asset has content usable for hashing.
func (r SubResource) Available() bool {
	return r.Err == nil && len(r.Body) > 0
}

// Path returns the URL path of the asset without query or fragment.
func (r SubResource) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}

// Page is a fetched target page.
type Page struct {
	// URL is the requested URL.
	URL string `json:"url"`

	// FinalURL is the URL after redirects.
	FinalURL string `json:"final_url,omitempty"`

	// StatusCode is the HTTP response status code.
	StatusCode int `json:"status_code"`

	// Headers contains the response headers.
	Headers http.Header `json:"headers,omitempty"`

	// ContentType is the response Content-Type.
	ContentType string `json:"content_type,omitempty"`

	// Body is the decoded, UTF-8 response body.
	Body []byte `json:"-"`

	// SubResources are the static assets referenced by the page.
	SubResources []SubResource `json:"sub_resources,omitempty"`

	// FetchedAt is when the page was fetched.
	FetchedAt time.Time `json:"fetched_at"`
}

// HasBody reports whether the page carries any non-whitespace content.
func (p *Page) HasBody() bool {
	return p != nil && len(strings.TrimSpace(string(p.Body))) > 0
}

// IsHTML reports whether the page looks like an HTML document.
func (p *Page) IsHTML() bool {
	if p == nil {
		return false
	}
	ct := strings.ToLower(p.ContentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" && !strings.HasPrefix(ct, "text/plain") {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(string(p.Body)))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// BaseURL returns the URL relative references on the page resolve against.
func (p *Page) BaseURL() *url.URL {
	raw := p.FinalURL
	if raw == "" {
		raw = p.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// Header returns the first value of a response header.
func (p *Page) Header(name string) string {
	if p == nil || p.Headers == nil {
		return ""
	}
	return p.Headers.Get(name)
}
