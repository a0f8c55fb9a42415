package model

import (
	"encoding/json"
	"slices"
	"strings"
)

// Kind is the category of a fingerprint value.
type Kind string

const (
	// KindHash is a content digest of a static asset.
	KindHash Kind = "hash"

	// KindExactString is a literal string such as a page title or a marker.
	KindExactString Kind = "exact_string"

	// KindHeaderPair is a response header rendered as "Name: value".
	KindHeaderPair Kind = "header_pair"
)

// Source categories. A fingerprint source is either a bare category
// ("title") or a category with a detail ("header:Server").
const (
	SourceFavicon    = "favicon"
	SourceScript     = "script"
	SourceStylesheet = "stylesheet"
	SourceImage      = "image"
	SourceTitle      = "title"
	SourceMeta       = "meta"
	SourceHeader     = "header"
	SourceMarker     = "marker"
	SourcePath       = "path"
)

// Key is the identity of a fingerprint.
type Key struct {
	Kind  Kind
	Value string
}

// String renders the key for logs and diagnostics.
func (k Key) String() string {
	return string(k.Kind) + ":" + k.Value
}

// Fingerprint is one extractable feature of a site.
type Fingerprint struct {
	// Kind is the fingerprint category.
	Kind Kind `json:"kind"`

	// Value is the normalized fingerprint value.
	Value string `json:"value"`

	// Source is the first field that produced this fingerprint.
	Source string `json:"source"`

	// Sources lists every field that produced the same (Kind, Value).
	Sources []string `json:"sources,omitempty"`

	// Context is a short disambiguating hint, typically the resource URL
	// the value came from. It is shown to the classifier.
	Context string `json:"context,omitempty"`
}

// Key returns the identity key of the fingerprint.
func (f Fingerprint) Key() Key {
	return Key{Kind: f.Kind, Value: f.Value}
}

// Category returns the source category, the part of Source before ':'.
func (f Fingerprint) Category() string {
	category, _, _ := strings.Cut(f.Source, ":")
	return category
}

// Detail returns the part of Source after ':' or an empty string.
func (f Fingerprint) Detail() string {
	_, detail, _ := strings.Cut(f.Source, ":")
	return detail
}

// CandidateSet is an insertion-ordered set of fingerprints keyed by (Kind, Value).
// The zero value is not usable; create one with NewCandidateSet.
type CandidateSet struct {
	items []Fingerprint
	index map[Key]int
}

// NewCandidateSet creates an empty CandidateSet.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{
		items: make([]Fingerprint, 0),
		index: make(map[Key]int),
	}
}

// Add inserts fp. When an entry with the same key exists, fp's sources are
// merged into it and Add returns false.
func (s *CandidateSet) Add(fp Fingerprint) bool {
	sources := fp.Sources
	if len(sources) == 0 && fp.Source != "" {
		sources = []string{fp.Source}
	}

	if i, ok := s.index[fp.Key()]; ok {
		existing := &s.items[i]
		for _, src := range sources {
			if !slices.Contains(existing.Sources, src) {
				existing.Sources = append(existing.Sources, src)
			}
		}
		if existing.Context == "" {
			existing.Context = fp.Context
		}
		return false
	}

	fp.Sources = slices.Clone(sources)
	if fp.Source == "" && len(fp.Sources) > 0 {
		fp.Source = fp.Sources[0]
	}
	s.index[fp.Key()] = len(s.items)
	s.items = append(s.items, fp)
	return true
}

// Union adds every fingerprint of other to s and returns s.
func (s *CandidateSet) Union(other *CandidateSet) *CandidateSet {
	if other == nil {
		return s
	}
	for _, fp := range other.items {
		s.Add(fp)
	}
	return s
}

// Contains reports whether a fingerprint with key k is present.
func (s *CandidateSet) Contains(k Key) bool {
	_, ok := s.index[k]
	return ok
}

// Len returns the number of distinct fingerprints.
func (s *CandidateSet) Len() int {
	return len(s.items)
}

// Items returns a copy of the fingerprints in insertion order.
func (s *CandidateSet) Items() []Fingerprint {
	if s == nil {
		return nil
	}
	out := make([]Fingerprint, len(s.items))
	for i, fp := range s.items {
		fp.Sources = slices.Clone(fp.Sources)
		out[i] = fp
	}
	return out
}

// MarshalJSON encodes the set as a list in insertion order.
func (s *CandidateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.items)
}
