// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command arbiter-server runs the core arbiter as a standalone process:
// one dispatcher owning every core on the host, reachable over a local
// Unix datagram socket, with an optional read-only inspector surface.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	arbiter "github.com/jontk/core-arbiter"
	"github.com/jontk/core-arbiter/pkg/config"
	"github.com/jontk/core-arbiter/pkg/logging"
	"github.com/jontk/core-arbiter/pkg/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.NewDefault()
	cfg.Load()

	var verbosity int
	var color bool
	flag.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "path of the server's transport socket")
	flag.IntVar(&cfg.MaxCores, "n", cfg.MaxCores, "override the detected core count (0 = detect)")
	flag.IntVar(&cfg.QueueBytes, "queue-bytes", cfg.QueueBytes, "per-endpoint transport socket buffer cap")
	flag.StringVar(&cfg.InspectAddr, "inspect", cfg.InspectAddr, "bind address for the read-only inspector (empty disables it)")
	flag.IntVar(&verbosity, "v", cfg.Verbosity, "log verbosity: positive values print more; -99 tabular core rows; -100 and below adds per-event traces")
	flag.BoolVar(&color, "c", cfg.Color, "enable ANSI color in tabular verbosity output")
	flag.Parse()
	cfg.Verbosity = verbosity
	cfg.Color = color

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-server: %v\n", err)
		return 2
	}

	logger := logging.NewLogger(&logging.Config{
		Level:   verbosityToSlogLevel(cfg.Verbosity),
		Format:  logging.FormatText,
		Output:  os.Stdout,
		Version: "dev",
	})

	// Tabular core-state rows (-v -99 and below) and the extra async-path
	// traces (-102/-103) are not separate sinks today; every tier at or
	// below -99 simply logs at Debug, same as positive verbosity.
	if cfg.Verbosity <= -99 {
		logger.Info("tabular/async-trace verbosity tiers fold into debug-level logging in this build", "verbosity", cfg.Verbosity)
	}

	srv, err := arbiter.NewServer(arbiter.ServerConfig{
		SocketPath:  cfg.SocketPath,
		MaxCores:    cfg.MaxCores,
		QueueBytes:  cfg.QueueBytes,
		InspectAddr: cfg.InspectAddr,
		Logger:      logger,
		Collector:   metrics.NewInMemoryCollector(),
	})
	if err != nil {
		logger.Error("failed to start arbiter server", "error", err)
		return 1
	}

	srv.Start()
	logger.Info("arbiter server started", "socket", cfg.SocketPath, "max_cores", cfg.MaxCores, "inspect", cfg.InspectAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	logger.Info("arbiter server shutting down")
	if err := srv.Close(); err != nil {
		logger.Error("arbiter server exited with error", "error", err)
		return 1
	}
	return 0
}

// verbosityToSlogLevel maps spec.md §6's verbosity scale onto slog's
// levels: any negative tier (tabular rows and deeper traces alike) is
// at least as detailed as positive verbosity, so both map to Debug.
func verbosityToSlogLevel(v int) slog.Level {
	if v == 0 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
