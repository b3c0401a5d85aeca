// Package main provides the entry point for the markdown-qa CLI.
package main

import (
	"os"

	"github.com/dreamerlzl/markdown-qa/cmd/markdown-qa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
