// Package main is the nightline server entrypoint binary.
//
// It delegates startup to the internal app package to keep main small
// and testable.
package main

import (
	"log/slog"
	"os"

	"nightline/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("nightline.exit", "err", err)
		os.Exit(1)
	}
}
