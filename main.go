package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/dnstapir/fla/cmd"
)

// version set at build time with -ldflags="-X main.version=v0.0.1"
var version = "undefined"

func main() {
	defaultHostname := "fla-hostname-unknown"
	hostname, err := os.Hostname()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to get hostname, using '%s'", defaultHostname)
		hostname = defaultHostname
	}

	// The level var is handed to cmd so --debug can raise verbosity after
	// flags have been parsed.
	loggerLevel := new(slog.LevelVar)

	// Logger used for all output
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: loggerLevel}))
	logger = logger.With("service", "fla")
	logger = logger.With("hostname", hostname)
	logger = logger.With("go_version", runtime.Version())
	logger = logger.With("version", version)

	// This makes any calls to the standard "log" package to use slog as
	// well
	slog.SetDefault(logger)

	cmd.Execute(logger, loggerLevel)
}
