package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/gogpu/raytrace"
)

// setupLogging routes library logs to stderr.
func setupLogging(ctx *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if ctx.GlobalBool("v") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	raytrace.SetLogger(logger)
	return logger
}
