// Package main is the entry point for the toolmesh CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env for provider API keys and credential fallbacks.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("toolmesh"),
		kong.Description("Run tool-using workers under a verified invocation pipeline."),
		kong.UsageOnError(),
		kongVars(),
	)
	err := kctx.Run(&Globals{Ctx: ctx, Out: os.Stdout, Config: cli.Config, Session: cli.Session})
	kctx.FatalIfErrorf(err)
}
