package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/alnah/go-fabric-analyze/internal/cli"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	env := cli.DefaultEnv()
	rootCmd := cli.RootCmd(env, fmt.Sprintf("%s (commit: %s)", version, commit))

	// Signals are handled per run by the interrupt handler, which keeps
	// partial results on the first Ctrl+C.
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
