package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/chazuruo/handoff/internal/cli"
)

// Version is set at build time using ldflags
var Version = "dev"

// Commit is set at build time using ldflags
var Commit = "unknown"

// Date is set at build time using ldflags
var Date = "unknown"

// BuiltBy is set at build time using ldflags
var BuiltBy = "unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	code := cli.Execute(ctx, cli.BuildInfo{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
		BuiltBy: BuiltBy,
	}, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}
