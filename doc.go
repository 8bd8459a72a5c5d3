// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

/*
Package arbiter is a single-host CPU-core resource arbiter: a small
server that owns every core on a machine and leases them out to
cooperating client processes on request, growing or shrinking each
client's share as other clients come and go.

# Overview

A Server binds a local Unix datagram channel and runs one dispatcher
goroutine that tracks every connected client's min/max/optimal core
constraints and the current owner of every core. Clients Setup to join,
Invade to request a share (blocking until the server can answer;
InvadeNonblocking instead returns at once, and the server's offer is
read later with NextReinvade and accepted with ReinvadeAckNonblocking),
Reinvade to re-request their current constraints, and Retreat to shrink
to a single core. The server reconciles every admission and departure
against its optimizer's greedy allocation and pushes updated shares to
affected clients without them having to ask again.

# Basic usage

Run a server:

	srv, err := arbiter.NewServer(arbiter.ServerConfig{SocketPath: "/tmp/messageQueue"})
	if err != nil {
	    log.Fatal(err)
	}
	defer srv.Close()
	srv.Start()

Connect a client and invade for a share of the machine:

	c, err := arbiter.NewClient("/tmp/messageQueue", os.Getpid(), 0)
	if err != nil {
	    log.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Setup(); err != nil {
	    log.Fatal(err)
	}
	answer, err := c.Invade(1, 4, 0, nil)

See cmd/arbiter-server for the standalone binary and cmd/arbiter-client
for a minimal command-line client.
*/
package arbiter
