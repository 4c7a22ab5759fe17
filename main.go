package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/fbonesso/storeops/internal/apierr"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns its exit code. Failures are written
// to stderr as a JSON error object.
func run(parent context.Context, args []string, stdout, stderr io.Writer) int {
	bootstrap := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := shutdownContext(parent, bootstrap)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return apierr.ExitOK
	}

	err = classifyCLIError(err)
	writeError(stderr, err)

	return apierr.ExitCode(err)
}
