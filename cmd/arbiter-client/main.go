// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command arbiter-client is a minimal command-line client for a running
// arbiter-server: it sets up, invades for a core range, holds the grant
// until interrupted, then retreats and shuts down cleanly.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	arbiter "github.com/jontk/core-arbiter"
)

func main() {
	os.Exit(run())
}

func run() int {
	socket := flag.String("socket", "/tmp/messageQueue", "arbiter server's transport socket path")
	minCPUs := flag.Int("min", 1, "minimum cores to request")
	maxCPUs := flag.Int("max", 1, "maximum cores to request")
	queueBytes := flag.Int("queue-bytes", 0, "per-endpoint transport socket buffer cap (0 = default)")
	flag.Parse()

	c, err := arbiter.NewClient(*socket, os.Getpid(), *queueBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-client: connect: %v\n", err)
		return 1
	}
	defer c.Close()

	if _, err := c.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-client: setup: %v\n", err)
		return 1
	}

	answer, err := c.Invade(int32(*minCPUs), int32(*maxCPUs), 0, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-client: invade: %v\n", err)
		return 1
	}
	fmt.Printf("granted %d cores, affinity %v\n", answer.NumberOfCores, answer.Affinity)
	fmt.Println("holding the grant; press Ctrl-C to retreat and exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	if err := c.Retreat(); err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-client: retreat: %v\n", err)
	}
	if _, err := c.Shutdown(0); err != nil {
		fmt.Fprintf(os.Stderr, "arbiter-client: shutdown: %v\n", err)
		return 1
	}
	return 0
}
