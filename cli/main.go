package main

import (
	"fmt"
	"os"

	"github.com/trebuchet-org/treb-proxy/internal/cli"
	"github.com/trebuchet-org/treb-proxy/internal/cli/render"
	"github.com/trebuchet-org/treb-proxy/internal/config"
	"github.com/trebuchet-org/treb-proxy/internal/domain"
)

// Set by the linker
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	config.SetBuildFlags(version, commit, date)

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, render.FormatError(err.Error()))
		if domain.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, render.FormatWarning("The manifest was not changed; the command can be retried"))
		}
		os.Exit(1)
	}
}
