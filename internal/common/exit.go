package common

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/dtnitsch/wcmr/pkg/mapreduce"
	"github.com/dtnitsch/wcmr/pkg/output"
	"github.com/dtnitsch/wcmr/pkg/splitter"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1 // a task failed or exhausted its retries
	ExitUsage     = 2 // bad flags, bad config, unreadable input
	ExitConflict  = 3 // output destination already holds data
	ExitCancelled = 130
)

// ExitCode maps a job error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, mapreduce.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, output.ErrDestinationConflict):
		return ExitConflict
	case errors.Is(err, splitter.ErrInputUnavailable):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// NewLogger returns the JSON logger on stderr shared by every command.
func NewLogger(quiet, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	if quiet {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
