// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire messages exchanged between the arbiter
// server and its clients, and their binary encoding for the local
// transport's variable-length frames.
package protocol

// Kind identifies the shape of a message's payload. It occupies the first
// 8 bytes of every frame.
type Kind uint64

const (
	KindClientSetup Kind = iota + 1
	KindServerAck
	KindClientShutdown
	KindClientAckShutdown
	KindClientInvade
	KindClientInvadeNonblocking
	KindServerInvadeAnswer
	KindServerReinvadeNonblocking
	KindClientReinvadeAckNonblocking
	KindClientReinvade
	KindClientRetreat
	KindClientServerShutdown
)

func (k Kind) String() string {
	switch k {
	case KindClientSetup:
		return "CLIENT_SETUP"
	case KindServerAck:
		return "SERVER_ACK"
	case KindClientShutdown:
		return "CLIENT_SHUTDOWN"
	case KindClientAckShutdown:
		return "CLIENT_ACK_SHUTDOWN"
	case KindClientInvade:
		return "CLIENT_INVADE"
	case KindClientInvadeNonblocking:
		return "CLIENT_INVADE_NONBLOCKING"
	case KindServerInvadeAnswer:
		return "SERVER_INVADE_ANSWER"
	case KindServerReinvadeNonblocking:
		return "SERVER_REINVADE_NONBLOCKING"
	case KindClientReinvadeAckNonblocking:
		return "CLIENT_REINVADE_ACK_NONBLOCKING"
	case KindClientReinvade:
		return "CLIENT_REINVADE"
	case KindClientRetreat:
		return "CLIENT_RETREAT"
	case KindClientServerShutdown:
		return "CLIENT_SERVER_SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// SetupRequest is sent CLIENT_SETUP, c->s.
type SetupRequest struct {
	PID int32
}

// Ack is sent SERVER_ACK, s->c.
type Ack struct {
	SeqID uint64
}

// ShutdownRequest is sent CLIENT_SHUTDOWN, c->s.
type ShutdownRequest struct {
	PID               int32
	ClientShutdownHint float64
}

// AckShutdown is sent CLIENT_ACK_SHUTDOWN, s->c, carrying the telemetry
// aggregates accumulated over the server's lifetime.
type AckShutdown struct {
	SumShutdownHint       float64
	SumShutdownHintDivTime float64
	SeqID                 uint64
}

// InvadeRequest is sent CLIENT_INVADE or CLIENT_INVADE_NONBLOCKING, c->s.
type InvadeRequest struct {
	PID               int32
	MinCPUs           int32
	MaxCPUs           int32
	DistributionHint  float64
	ScalabilityGraph  []float64
}

// InvadeAnswer is sent SERVER_INVADE_ANSWER or SERVER_REINVADE_NONBLOCKING,
// s->c. Both message kinds share this layout per spec.
type InvadeAnswer struct {
	PID             int32
	SeqID           uint64
	AnythingChanged bool
	NumberOfCores   int32
	Affinity        []int32
}

// ReinvadeAckNonblocking is sent CLIENT_REINVADE_ACK_NONBLOCKING, c->s.
type ReinvadeAckNonblocking struct {
	PID           int32
	NumberOfCores int32
	Affinity      []int32
}

// ReinvadeRequest is sent CLIENT_REINVADE, c->s.
type ReinvadeRequest struct {
	PID int32
}

// RetreatRequest is sent CLIENT_RETREAT, c->s.
type RetreatRequest struct {
	PID int32
}

// ServerShutdownSignal is sent CLIENT_SERVER_SHUTDOWN to unblock the
// dispatcher's receive loop during teardown. It carries no payload.
type ServerShutdownSignal struct{}
