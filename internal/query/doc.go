// Package query compiles distinctive fingerprints into FOFA-style search
// queries: field="value" clauses joined with && and ||.
package query
