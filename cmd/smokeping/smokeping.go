package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/clambin/smokeping/internal/cmd"
	"github.com/xonvanetta/shutdown/pkg/shutdown"
)

var version = "change-me"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdown.Chan()
		cancel()
	}()

	cmd.Cmd.Version = version
	if err := cmd.Cmd.ExecuteContext(ctx); err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
}
