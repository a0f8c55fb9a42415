package similarity

import (
	"net/url"

	"github.com/nao1215/findsim/internal/model"
)

// Jaccard returns |A∩B| / |A∪B| of the value sets of a and b. URL values
// are compared by path only, so the same resource served from another host
// matches. Two empty sets are identical; one empty set matches nothing.
func Jaccard(a, b []string) float64 {
	return setJaccard(pathSet(a), pathSet(b))
}

// FingerprintJaccard compares fingerprint lists by their keys.
func FingerprintJaccard(a, b []model.Fingerprint) float64 {
	return setJaccard(keySet(a), keySet(b))
}

// ResourcePaths returns the URLs of the sub-resources found on page.
func ResourcePaths(page *model.Page) []string {
	if page == nil {
		return nil
	}
	out := make([]string, 0, len(page.SubResources))
	for _, r := range page.SubResources {
		out = append(out, r.URL)
	}
	return out
}

// Comparison is the similarity of two sites.
type Comparison struct {
	// Paths is the Jaccard similarity of the sub-resource paths.
	Paths float64 `json:"paths"`

	// Fingerprints is the Jaccard similarity of the candidate fingerprints.
	Fingerprints float64 `json:"fingerprints"`

	// Shared lists the fingerprints found on both sites.
	Shared []model.Fingerprint `json:"shared"`
}

// Compare measures two fetched pages and their extracted candidates.
func Compare(a, b *model.Page, ca, cb *model.CandidateSet) Comparison {
	return Comparison{
		Paths:        Jaccard(ResourcePaths(a), ResourcePaths(b)),
		Fingerprints: FingerprintJaccard(ca.Items(), cb.Items()),
		Shared:       Shared(ca.Items(), cb.Items()),
	}
}

// Shared returns the fingerprints of a whose key also appears in b, in
// the order of a.
func Shared(a, b []model.Fingerprint) []model.Fingerprint {
	keys := keySet(b)
	out := make([]model.Fingerprint, 0)
	for _, fp := range a {
		if _, ok := keys[fp.Key()]; ok {
			out = append(out, fp)
		}
	}
	return out
}

func pathSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		p := v
		if u, err := url.Parse(v); err == nil {
			p = u.Path
		}
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

func keySet(fps []model.Fingerprint) map[model.Key]struct{} {
	set := make(map[model.Key]struct{}, len(fps))
	for _, fp := range fps {
		set[fp.Key()] = struct{}{}
	}
	return set
}

func setJaccard[K comparable](a, b map[K]struct{}) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 1
	case len(a) == 0 || len(b) == 0:
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
