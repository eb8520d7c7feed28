// Package main is the entry point for the pkgpulse server.
package main

import (
	"log/slog"
	"os"

	"github.com/stacklok/pkgpulse/cmd/pkgpulse/app"
)

func main() {
	// stderr keeps stdout clean for `version --format json`
	slog.SetDefault(newLogger(os.Stderr, levelFromEnv()))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
