// Package extract turns a fetched page into candidate fingerprints.
//
// Fingerprints come from four places:
//   - asset content: the favicon as the search engine's icon hash,
//     scripts, stylesheets and images as MD5 digests
//   - the document: title and meta generator
//   - response headers on an allow-list, as "Name: value" pairs
//   - configured marker patterns and same-origin resource paths
//
// String values are normalized (NFC, whitespace collapsed) with case kept.
package extract
