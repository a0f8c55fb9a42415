// Package similarity measures how alike two sites are.
//
// Sites are compared by the Jaccard index of their sub-resource paths or of
// their fingerprint keys. Verifier uses the path similarity to check that
// the hosts returned by a query actually resemble the target.
package similarity
