// Package main provides the CLI for the FlowSQL workflow converter.
package main

import (
	"os"

	"github.com/leapstack-labs/flowsql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
