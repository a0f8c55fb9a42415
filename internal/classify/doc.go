// Package classify separates generic fingerprints (public libraries, CDN
// assets, default banners) from the ones distinctive of a deployment.
//
// The decision is delegated to a BatchClassifier, normally LLMClassifier.
// Classifier batches the candidates, runs batches concurrently and puts
// the verdicts back in candidate order. Failures never drop a candidate:
// a batch that cannot be classified is kept as distinctive.
package classify
