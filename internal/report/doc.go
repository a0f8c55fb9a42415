// Package report renders target reports.
//
//   - SimpleWriter: one block of result URLs per target, for piping
//   - JSONWriter: the full report as JSON, one document per target
//   - MarkdownWriter: tables of fingerprints, queries and hosts
//
// Writers implement Writer and can be combined with MultiWriter.
package report
