// Package main is the entry point for the vigil CLI.
package main

import (
	"os"

	"github.com/vigil-agent/vigil/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
