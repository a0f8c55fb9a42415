package model

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
)

// SearchResult is one host returned by the search engine.
type SearchResult struct {
	// Host is the normalized host key.
	Host string `json:"host"`

	// URL is a browsable address for the host.
	URL string `json:"url"`

	// IP is the host's address, when the engine returned it.
	IP string `json:"ip,omitempty"`

	// Port is the service port, when the engine returned it.
	Port string `json:"port,omitempty"`

	// Protocol is the service protocol (http, https), when returned.
	Protocol string `json:"protocol,omitempty"`

	// Title is the page title the engine indexed, when returned.
	Title string `json:"title,omitempty"`

	// Raw is the engine's record keyed by field name.
	Raw map[string]string `json:"raw,omitempty"`

	// Queries lists the query texts that returned this host, first one first.
	Queries []string `json:"queries"`
}

// NormalizeHost returns the identity key of a host: scheme stripped,
// everything from the first path, query or fragment separator stripped,
// lowercased.
func NormalizeHost(raw string) string {
	host := strings.TrimSpace(raw)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// InsertOutcome is the result of ResultSet.Insert.
type InsertOutcome int

const (
	// InsertAdded means a new host entered the set.
	InsertAdded InsertOutcome = iota

	// InsertMerged means the host existed and the query was added to its provenance.
	InsertMerged

	// InsertRejected means the set is finalized or the record had no host.
	InsertRejected
)

// ResultSet is the deduplicated host set of one invocation.
// It is safe for concurrent use.
type ResultSet struct {
	mu        sync.Mutex
	byHost    map[string]*SearchResult
	order     []string
	limit     int
	finalized bool
}

// NewResultSet creates an empty set. A positive limit is the global result
// cap: the set finalizes itself when it holds limit hosts.
func NewResultSet(limit int) *ResultSet {
	return &ResultSet{
		byHost: make(map[string]*SearchResult),
		order:  make([]string, 0),
		limit:  limit,
	}
}

// Insert adds r as returned by query. The first record for a host wins;
// later records only extend its provenance.
func (rs *ResultSet) Insert(query string, r SearchResult) InsertOutcome {
	key := NormalizeHost(r.Host)
	if key == "" {
		return InsertRejected
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.finalized {
		return InsertRejected
	}

	if existing, ok := rs.byHost[key]; ok {
		if query != "" && !slices.Contains(existing.Queries, query) {
			existing.Queries = append(existing.Queries, query)
		}
		return InsertMerged
	}

	stored := r
	stored.Host = key
	stored.Queries = nil
	if query != "" {
		stored.Queries = []string{query}
	}
	rs.byHost[key] = &stored
	rs.order = append(rs.order, key)

	if rs.limit > 0 && len(rs.order) >= rs.limit {
		rs.finalized = true
	}
	return InsertAdded
}

// Finalize makes the set read-only.
func (rs *ResultSet) Finalize() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.finalized = true
}

// Finalized reports whether the set accepts no more records.
func (rs *ResultSet) Finalized() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.finalized
}

// Len returns the number of distinct hosts.
func (rs *ResultSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.order)
}

// Get returns the result stored for host.
func (rs *ResultSet) Get(host string) (SearchResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.byHost[NormalizeHost(host)]
	if !ok {
		return SearchResult{}, false
	}
	return copyResult(r), true
}

// Results returns copies of the stored results in insertion order.
func (rs *ResultSet) Results() []SearchResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]SearchResult, 0, len(rs.order))
	for _, key := range rs.order {
		out = append(out, copyResult(rs.byHost[key]))
	}
	return out
}

// Hosts returns the host keys in insertion order.
func (rs *ResultSet) Hosts() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.Clone(rs.order)
}

// MarshalJSON encodes the results in insertion order.
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.Results())
}

func copyResult(r *SearchResult) SearchResult {
	c := *r
	c.Queries = slices.Clone(r.Queries)
	return c
}
