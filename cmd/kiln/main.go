// Package main is the entry point for the kiln CLI. Kiln is a local
// control plane for LLM code generation: it schedules work across the
// models served by Ollama-compatible endpoints and learns which model
// handles which kind of task best.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jberon/kiln/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if !exitErr.Printed {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
