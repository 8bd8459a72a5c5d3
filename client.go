// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package arbiter

import (
	"context"
	"fmt"

	"github.com/jontk/core-arbiter/internal/protocol"
	"github.com/jontk/core-arbiter/internal/transport"
	"github.com/jontk/core-arbiter/pkg/retry"
)

// InvadeAnswer is the server's response to Invade/Reinvade: the core
// count and affinity currently granted to the calling client.
type InvadeAnswer struct {
	SeqID           uint64
	AnythingChanged bool
	NumberOfCores   int32
	Affinity        []int32
}

// Client is a connection to a running arbiter server, identified by its
// own pid on the shared socket path. Safe for use by one goroutine at a
// time.
//
// Most of the protocol is strict request/reply, but the server may also
// push an unsolicited SERVER_REINVADE_NONBLOCKING frame to this client
// at any time, as a side effect of some other client's Invade/Retreat/
// Shutdown freeing or claiming cores. recvReply skips over these while
// waiting for the reply a given call expects, stashing the most recent
// one for PendingReinvade.
type Client struct {
	basePath string
	pid      int32
	ep       *transport.Endpoint

	pendingReinvade *InvadeAnswer
}

// NewClient opens the client's own receive channel derived from
// basePath and pid, retrying the bind with pkg/retry's exponential
// backoff since the server may still be finishing its own startup or
// a prior instance's socket file may still be unlinking.
func NewClient(basePath string, pid int, queueBytes int) (*Client, error) {
	var ep *transport.Endpoint
	op := func() error {
		var err error
		ep, err = transport.OpenClient(basePath, int32(pid), queueBytes)
		return err
	}
	if err := retry.Retry(context.Background(), retry.NewExponentialBackoff(), op); err != nil {
		return nil, fmt.Errorf("arbiter: open client endpoint: %w", err)
	}
	return &Client{basePath: basePath, pid: int32(pid), ep: ep}, nil
}

// Close releases the client's receive channel.
func (c *Client) Close() error { return c.ep.Close() }

func (c *Client) send(kind protocol.Kind, payload any) error {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		return fmt.Errorf("arbiter: encode %s: %w", kind, err)
	}
	return c.ep.SendToServer(c.basePath, frame)
}

func (c *Client) recv() (protocol.Kind, any, error) {
	frame, err := c.ep.Receive()
	if err != nil {
		return 0, nil, fmt.Errorf("arbiter: receive: %w", err)
	}
	return protocol.Decode(frame)
}

// recvReply reads frames until it finds one of wantKinds, stashing any
// unsolicited SERVER_REINVADE_NONBLOCKING frames it skips past along
// the way as the client's latest pending offer. Callers that themselves
// want the reinvade-nonblocking frame list it in wantKinds so it isn't
// treated as noise.
func (c *Client) recvReply(wantKinds ...protocol.Kind) (protocol.Kind, any, error) {
	for {
		kind, payload, err := c.recv()
		if err != nil {
			return 0, nil, err
		}
		for _, want := range wantKinds {
			if kind == want {
				return kind, payload, nil
			}
		}
		if kind == protocol.KindServerReinvadeNonblocking {
			if ia, ok := payload.(protocol.InvadeAnswer); ok {
				c.pendingReinvade = &InvadeAnswer{
					SeqID: ia.SeqID, AnythingChanged: ia.AnythingChanged,
					NumberOfCores: ia.NumberOfCores, Affinity: ia.Affinity,
				}
			}
			continue
		}
		return kind, payload, fmt.Errorf("arbiter: unexpected reply kind %s", kind)
	}
}

// PendingReinvade returns and clears the most recent unsolicited
// SERVER_REINVADE_NONBLOCKING offer received while this client was
// waiting on a different reply, or nil if none is outstanding. A real
// client should answer it with ReinvadeAckNonblocking once it has
// adopted the new core count and affinity.
func (c *Client) PendingReinvade() *InvadeAnswer {
	p := c.pendingReinvade
	c.pendingReinvade = nil
	return p
}

// Setup registers the client with the server and blocks for its Ack.
func (c *Client) Setup() (seqID uint64, err error) {
	if err := c.send(protocol.KindClientSetup, protocol.SetupRequest{PID: c.pid}); err != nil {
		return 0, err
	}
	_, payload, err := c.recvReply(protocol.KindServerAck)
	if err != nil {
		return 0, err
	}
	ack, ok := payload.(protocol.Ack)
	if !ok {
		return 0, fmt.Errorf("arbiter: setup: malformed ack payload")
	}
	return ack.SeqID, nil
}

// Invade requests minCPUs..maxCPUs cores, blocking until the server
// answers. The reply is immediate if the client holds at least one core
// once the server has reconciled the request; otherwise the request is
// parked and answered only once a later change, such as another
// client's Retreat or Shutdown, frees one up. distributionHint and
// scalabilityGraph may be left zero-valued if the client has no opinion
// on how the optimizer should weigh it.
func (c *Client) Invade(minCPUs, maxCPUs int32, distributionHint float64, scalabilityGraph []float64) (*InvadeAnswer, error) {
	req := protocol.InvadeRequest{
		PID: c.pid, MinCPUs: minCPUs, MaxCPUs: maxCPUs,
		DistributionHint: distributionHint, ScalabilityGraph: scalabilityGraph,
	}
	if err := c.send(protocol.KindClientInvade, req); err != nil {
		return nil, err
	}
	_, payload, err := c.recvReply(protocol.KindServerInvadeAnswer)
	if err != nil {
		return nil, fmt.Errorf("arbiter: invade: %w", err)
	}
	ia, ok := payload.(protocol.InvadeAnswer)
	if !ok {
		return nil, fmt.Errorf("arbiter: invade: malformed answer payload")
	}
	return &InvadeAnswer{
		SeqID: ia.SeqID, AnythingChanged: ia.AnythingChanged,
		NumberOfCores: ia.NumberOfCores, Affinity: ia.Affinity,
	}, nil
}

// InvadeNonblocking submits minCPUs..maxCPUs cores as a request the
// client does not wait on: it returns as soon as the request is sent.
// As with Invade, the server never takes cores from another client to satisfy it —
// it only offers cores as they become free, and only once per
// outstanding request. Call NextReinvade to wait for that offer, which
// may arrive immediately (if cores are already free) or only after some
// other client's Retreat, Shutdown, or ReinvadeAckNonblocking makes room.
func (c *Client) InvadeNonblocking(minCPUs, maxCPUs int32, distributionHint float64, scalabilityGraph []float64) error {
	req := protocol.InvadeRequest{
		PID: c.pid, MinCPUs: minCPUs, MaxCPUs: maxCPUs,
		DistributionHint: distributionHint, ScalabilityGraph: scalabilityGraph,
	}
	return c.send(protocol.KindClientInvadeNonblocking, req)
}

// NextReinvade blocks for the next SERVER_REINVADE_NONBLOCKING offer,
// returning one already stashed by a prior call (see PendingReinvade)
// before waiting on the wire for a new one.
func (c *Client) NextReinvade() (*InvadeAnswer, error) {
	if p := c.PendingReinvade(); p != nil {
		return p, nil
	}
	_, payload, err := c.recvReply(protocol.KindServerReinvadeNonblocking)
	if err != nil {
		return nil, fmt.Errorf("arbiter: next reinvade: %w", err)
	}
	ia, ok := payload.(protocol.InvadeAnswer)
	if !ok {
		return nil, fmt.Errorf("arbiter: next reinvade: malformed answer payload")
	}
	return &InvadeAnswer{
		SeqID: ia.SeqID, AnythingChanged: ia.AnythingChanged,
		NumberOfCores: ia.NumberOfCores, Affinity: ia.Affinity,
	}, nil
}

// ReinvadeAckNonblocking acknowledges a previously received, unsolicited
// SERVER_REINVADE_NONBLOCKING offer, confirming the client has adopted
// the given core count and affinity.
func (c *Client) ReinvadeAckNonblocking(numberOfCores int32, affinity []int32) error {
	return c.send(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: c.pid, NumberOfCores: numberOfCores, Affinity: affinity,
	})
}

// Reinvade re-requests the client's existing constraints, blocking for a
// fresh answer.
func (c *Client) Reinvade() (*InvadeAnswer, error) {
	if err := c.send(protocol.KindClientReinvade, protocol.ReinvadeRequest{PID: c.pid}); err != nil {
		return nil, err
	}
	_, payload, err := c.recvReply(protocol.KindServerInvadeAnswer)
	if err != nil {
		return nil, fmt.Errorf("arbiter: reinvade: %w", err)
	}
	ia, ok := payload.(protocol.InvadeAnswer)
	if !ok {
		return nil, fmt.Errorf("arbiter: reinvade: malformed answer payload")
	}
	return &InvadeAnswer{
		SeqID: ia.SeqID, AnythingChanged: ia.AnythingChanged,
		NumberOfCores: ia.NumberOfCores, Affinity: ia.Affinity,
	}, nil
}

// Retreat releases all but one of the client's claimed cores back to
// the pool and blocks for the server's acknowledgment.
func (c *Client) Retreat() error {
	if err := c.send(protocol.KindClientRetreat, protocol.RetreatRequest{PID: c.pid}); err != nil {
		return err
	}
	_, _, err := c.recvReply(protocol.KindServerAck)
	if err != nil {
		return fmt.Errorf("arbiter: retreat: %w", err)
	}
	return nil
}

// Shutdown notifies the server the client is leaving for good and
// blocks for the server's final telemetry acknowledgment.
func (c *Client) Shutdown(shutdownHint float64) (*protocol.AckShutdown, error) {
	if err := c.send(protocol.KindClientShutdown, protocol.ShutdownRequest{PID: c.pid, ClientShutdownHint: shutdownHint}); err != nil {
		return nil, err
	}
	_, payload, err := c.recvReply(protocol.KindClientAckShutdown)
	if err != nil {
		return nil, fmt.Errorf("arbiter: shutdown: %w", err)
	}
	ack, ok := payload.(protocol.AckShutdown)
	if !ok {
		return nil, fmt.Errorf("arbiter: shutdown: malformed ack payload")
	}
	return &ack, nil
}
