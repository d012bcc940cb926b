// Package main is the entry point for the scribectl CLI.
// The CLI is the terminal tool for interacting with the scribeq API.
package main

import (
	"os"

	"scribeq/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
