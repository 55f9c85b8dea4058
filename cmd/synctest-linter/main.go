// Command synctest-linter flags tests that sleep on the real clock instead of
// inside a testing/synctest bubble.
//
//	go run ./cmd/synctest-linter ./...
package main

import "golang.org/x/tools/go/analysis/singlechecker"

func main() { singlechecker.Main(Analyzer) }
