// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package inspector provides a read-only HTTP/WebSocket debug surface
// over a running arbiter: a state snapshot, a metrics snapshot, and a
// live event stream. It is never required for correct arbiter
// operation — the dispatcher runs identically with no inspector
// attached, and the inspector only ever reads state handed to it
// through the Observer callback, never the dispatcher's own goroutine.
//
// Grounded on the teacher's tests/mocks.MockSlurmServer (gorilla/mux
// router setup, route registration) and docker-compose's api/v1.server
// (a small struct wrapping *mux.Router as an http.Handler).
package inspector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jontk/core-arbiter/internal/registry"
	"github.com/jontk/core-arbiter/internal/resources"
	"github.com/jontk/core-arbiter/pkg/logging"
	"github.com/jontk/core-arbiter/pkg/metrics"
	"github.com/jontk/core-arbiter/pkg/retry"
)

// StateSource is the read-only view the inspector needs of a running
// dispatcher. *dispatcher.Dispatcher satisfies this directly via its
// existing Registry/Table accessors.
type StateSource interface {
	Registry() *registry.Registry
	Table() *resources.Table
}

// Server wraps a *mux.Router exposing the arbiter's debug routes over
// plain HTTP, plus a WebSocket event stream.
type Server struct {
	router *mux.Router
	http   *http.Server

	state   StateSource
	metrics metrics.Collector
	hub     *eventHub
	logger  logging.Logger
}

// NewServer constructs an inspector bound to addr. state and the
// metrics collector may be read concurrently with dispatcher activity;
// callers are expected to pass the same collector the dispatcher's
// Observer reports into. Boot fails fatally if the embedded OpenAPI
// document describing these routes does not itself validate — a
// doc/route mismatch is a programming error, not a runtime condition.
func NewServer(addr string, state StateSource, collector metrics.Collector, logger logging.Logger) (*Server, error) {
	if err := validateEmbeddedOpenAPI(); err != nil {
		return nil, fmt.Errorf("inspector: embedded OpenAPI document is invalid: %w", err)
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	s := &Server{
		state:   state,
		metrics: collector,
		hub:     newEventHub(),
		logger:  logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/state", s.handleState).Methods("GET")
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/v1/events", s.handleEvents).Methods("GET")
	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r}

	return s, nil
}

// Observer returns the dispatcher.Observer-shaped sink this server's
// event stream is fed through. Callers compose it with the metrics
// collector's own observer (e.g. via a fan-out Observer) so dispatcher
// state changes reach both sinks without the dispatcher knowing either
// exists.
func (s *Server) Observer() *EventBroadcaster {
	return &EventBroadcaster{hub: s.hub}
}

// Start begins serving in the background; it never blocks the caller.
// Binding s.http.Addr is retried with a constant backoff, since right
// after a restart the previous inspector's listener may still be
// releasing the address (TIME_WAIT) rather than it being genuinely
// unavailable. Serve errors other than a clean shutdown are logged.
func (s *Server) Start() {
	go func() {
		var ln net.Listener
		bind := func() error {
			var err error
			ln, err = net.Listen("tcp", s.http.Addr)
			return err
		}
		backoff := retry.NewConstantBackoff(200*time.Millisecond, 5)
		if err := retry.Retry(context.Background(), backoff, bind); err != nil {
			s.logger.Error("inspector failed to bind", "addr", s.http.Addr, "error", err)
			return
		}
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("inspector server exited", "error", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server and closes all open
// WebSocket connections.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.closeAll()
	return s.http.Shutdown(ctx)
}

// ServeHTTP lets *Server itself be used as an http.Handler, e.g. under
// httptest.NewServer in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
