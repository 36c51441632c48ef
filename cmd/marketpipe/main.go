// Package main is the entry point for the marketpipe CLI.
package main

import (
	"os"

	"github.com/quantstack-labs/marketpipe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
