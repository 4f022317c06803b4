package main

import (
	"context"
	"os"

	"certgen/internal/cli"
)

// Set by the release build.
var version = "dev"

func main() {
	ctx, cancel := cli.ContextWithSignals(context.Background())
	defer cancel()

	if err := cli.New(version).Execute(ctx, os.Args[1:]); err != nil {
		cancel()
		cli.ExitOnError(err)
	}
}
