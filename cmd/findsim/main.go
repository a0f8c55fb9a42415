// Package main is the findsim command.
//
// findsim takes the URL of a website, extracts fingerprints from it (asset
// hashes, titles, headers, markers), asks a language model which of them
// are distinctive, compiles those into FOFA queries and collects the hosts
// that serve a similar site.
package main

func main() {
	Execute()
}
