// Package pipeline runs the stages of a similar-site search for each target.
//
// A Pipeline executes Steps in order over one model.Report: fetch the page,
// extract candidate fingerprints, classify them, compile queries, search
// and optionally verify the results. A step error stops that target only.
// BatchProcessor runs one pipeline per target with bounded concurrency and
// streams reports as they finish.
package pipeline
