// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package shell runs the dispatcher's receive loop on a dedicated
// goroutine and gives the owning process a way to tear it down cleanly,
// grounded on the teacher's pkg/pool.ConnectionManager background-
// goroutine-with-context-cancellation lifecycle.
package shell

import (
	"fmt"
	"sync"

	"github.com/jontk/core-arbiter/internal/dispatcher"
	"github.com/jontk/core-arbiter/internal/protocol"
	"github.com/jontk/core-arbiter/internal/transport"
	"github.com/jontk/core-arbiter/pkg/logging"
)

// shutdownInjectorPID is the pid a Shell uses for the client channel it
// opens solely to inject CLIENT_SERVER_SHUTDOWN. No real client is ever
// assigned this pid (operating systems reserve pid 0 for the scheduler
// itself), so it can never collide with a live client's channel.
const shutdownInjectorPID = 0

// Shell owns one Dispatcher's lifecycle: starting its Run loop on a
// separate goroutine, and, on Stop, unblocking that loop's receive by
// injecting a shutdown frame through a short-lived client channel before
// joining the goroutine and releasing transport state.
type Shell struct {
	basePath   string
	queueBytes int
	server     *transport.Endpoint
	dispatcher *dispatcher.Dispatcher
	logger     logging.Logger

	wg      sync.WaitGroup
	runErr  error
	started bool
	mu      sync.Mutex
}

// New binds the server's transport endpoint at basePath and constructs a
// Dispatcher over it with the given core count, logger, and observer.
// observer may be nil.
func New(basePath string, maxCores, queueBytes int, logger logging.Logger, observer dispatcher.Observer) (*Shell, error) {
	server, err := transport.OpenServer(basePath, queueBytes)
	if err != nil {
		return nil, fmt.Errorf("shell: open server endpoint: %w", err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &Shell{
		basePath:   basePath,
		queueBytes: queueBytes,
		server:     server,
		dispatcher: dispatcher.New(server, maxCores, logger, observer),
		logger:     logger,
	}, nil
}

// Dispatcher exposes the underlying dispatcher, e.g. for an inspector to
// read its registry and resource table.
func (s *Shell) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Start launches the dispatcher's Run loop on its own goroutine. Calling
// Start again on a Shell that has already started is a no-op.
func (s *Shell) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runErr = s.dispatcher.Run()
	}()
}

// Stop injects CLIENT_SERVER_SHUTDOWN through a short-lived client
// channel to unblock the dispatcher's receive, joins its goroutine, then
// closes the server endpoint and returns whatever error Run exited with.
func (s *Shell) Stop() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return s.server.Close()
	}

	injector, err := transport.OpenClient(s.basePath, shutdownInjectorPID, s.queueBytes)
	if err != nil {
		return fmt.Errorf("shell: open shutdown injector: %w", err)
	}

	frame, err := protocol.Encode(protocol.KindClientServerShutdown, protocol.ServerShutdownSignal{})
	if err != nil {
		_ = injector.Close()
		return fmt.Errorf("shell: encode shutdown signal: %w", err)
	}
	if err := injector.SendToServer(s.basePath, frame); err != nil {
		_ = injector.Close()
		return fmt.Errorf("shell: send shutdown signal: %w", err)
	}
	_ = injector.Close()

	s.wg.Wait()

	if closeErr := s.server.Close(); closeErr != nil && s.runErr == nil {
		return closeErr
	}
	return s.runErr
}
