package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"
)

// Signal tests share the process signal handlers and must not run in
// parallel with each other.

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	ctx, stop := shutdownContext(context.Background(), logger)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("failed to send SIGINT: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}
}

func TestShutdownContext_SecondSignalForcesExit(t *testing.T) {
	forced := make(chan struct{})

	orig := forceExit
	forceExit = func() { close(forced) }

	t.Cleanup(func() { forceExit = orig })

	ctx, stop := shutdownContext(context.Background(), slog.New(slog.DiscardHandler))
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send SIGTERM: %v", err)
	}

	<-ctx.Done()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send second SIGTERM: %v", err)
	}

	select {
	case <-forced:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestShutdownContext_StopIsIdempotent(t *testing.T) {
	ctx, stop := shutdownContext(context.Background(), slog.New(slog.DiscardHandler))

	stop()
	stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the context")
	}
}

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	ctx, stop := shutdownContext(parent, slog.New(slog.DiscardHandler))
	defer stop()

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancel did not propagate")
	}
}
