// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package arbiter

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jontk/core-arbiter/internal/dispatcher"
	"github.com/jontk/core-arbiter/internal/shell"
	"github.com/jontk/core-arbiter/pkg/inspector"
	"github.com/jontk/core-arbiter/pkg/logging"
	"github.com/jontk/core-arbiter/pkg/metrics"
)

// ServerConfig configures a Server. The zero value is not valid;
// SocketPath is required, everything else defaults sensibly.
type ServerConfig struct {
	// SocketPath is the filesystem path the server's transport binds
	// to. Clients derive their own paths from this one.
	SocketPath string

	// MaxCores is the number of cores the optimizer partitions. Zero
	// means detect the host's core count via runtime.NumCPU.
	MaxCores int

	// QueueBytes is the transport's per-endpoint socket buffer cap.
	// Zero means transport.DefaultQueueBytes.
	QueueBytes int

	// InspectAddr, if non-empty, starts a read-only inspector HTTP/WS
	// server on this address alongside the dispatcher.
	InspectAddr string

	// Logger receives structured logs from the dispatcher and shell.
	// Nil discards all logging.
	Logger logging.Logger

	// Collector receives scheduler metrics. Nil uses an in-memory
	// collector that's discarded on Close.
	Collector metrics.Collector
}

// Server is a running core arbiter: a dispatcher goroutine plus,
// optionally, an inspector surface over it.
type Server struct {
	shell     *shell.Shell
	inspector *inspector.Server
}

// NewServer constructs a Server bound to cfg.SocketPath. The server is
// not yet accepting dispatcher traffic; call Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("arbiter: ServerConfig.SocketPath is required")
	}
	maxCores := cfg.MaxCores
	if maxCores <= 0 {
		maxCores = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewInMemoryCollector()
	}

	observers := dispatcher.MultiObserver{metrics.NewDispatcherObserver(collector)}

	var insp *inspector.Server
	sh, err := shell.New(cfg.SocketPath, maxCores, cfg.QueueBytes, logger, nil)
	if err != nil {
		return nil, err
	}

	if cfg.InspectAddr != "" {
		insp, err = inspector.NewServer(cfg.InspectAddr, sh.Dispatcher(), collector, logger)
		if err != nil {
			return nil, err
		}
		observers = append(observers, insp.Observer())
	}

	sh.Dispatcher().SetObserver(observers)

	return &Server{shell: sh, inspector: insp}, nil
}

// Start launches the dispatcher's receive loop and, if configured, the
// inspector server, both on background goroutines.
func (s *Server) Start() {
	s.shell.Start()
	if s.inspector != nil {
		s.inspector.Start()
	}
}

// Close tears the server down: it unblocks and joins the dispatcher's
// receive loop, then stops the inspector if one is running.
func (s *Server) Close() error {
	runErr := s.shell.Stop()
	if s.inspector != nil {
		if err := s.inspector.Stop(context.Background()); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// Dispatcher exposes the server's underlying dispatcher, e.g. for tests
// that want to inspect scheduler state directly.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.shell.Dispatcher() }
