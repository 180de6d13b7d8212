// Command eventlens is an operator/debugging CLI for the content-aware
// photo preprocessing pipeline.
package main

import (
	"os"

	"github.com/eventlens/eventlens/cmd/eventlens/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
