// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// runLogFile is overwritten on every invocation.
const runLogFile = "lastrun.log"

// openRunLog returns a logger writing to path. With verbose set the same
// records, debug level included, are teed to stderr. Every record carries
// the run id.
func openRunLog(path string, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating run log: %w", err)
	}
	var w io.Writer = f
	level := slog.LevelInfo
	if verbose {
		w = io.MultiWriter(f, stderr)
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).
		With("run", uuid.NewString())
	return logger, f, nil
}
