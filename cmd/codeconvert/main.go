// Package main provides the entry point for the codeconvert CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Satyacharanv/CodeConversionAI/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
