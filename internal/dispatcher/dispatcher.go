// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher implements the world scheduler's single-threaded
// receive loop: the state machine that routes each inbound protocol
// message to a handler, drives the optimizer and both reconciliation
// paths, and maintains the delayed-ack queue and async-reinvade
// broadcast (spec.md §4.5).
package dispatcher

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jontk/core-arbiter/internal/optimizer"
	"github.com/jontk/core-arbiter/internal/protocol"
	"github.com/jontk/core-arbiter/internal/reconcile"
	"github.com/jontk/core-arbiter/internal/registry"
	"github.com/jontk/core-arbiter/internal/resources"
	"github.com/jontk/core-arbiter/internal/transport"
	arberrors "github.com/jontk/core-arbiter/pkg/errors"
	"github.com/jontk/core-arbiter/pkg/logging"
)

// Transport is the subset of *transport.Endpoint the dispatcher needs.
// Kept as an interface so tests can drive the state machine with an
// in-process fake instead of a real socket.
type Transport interface {
	SendToClientAt(pid int32, frame []byte) error
	Receive() ([]byte, error)
}

// Observer receives scheduler telemetry as the dispatcher runs. See
// pkg/metrics for the InMemoryCollector-backed implementation and
// pkg/inspector for the live-state implementation.
type Observer interface {
	OnMessage(kind protocol.Kind)
	OnHandlerDuration(kind protocol.Kind, d time.Duration)
	OnError(err *arberrors.ArbiterError)
	OnDelayedAckDepth(n int)
	OnAsyncInFlight(n int)
}

// NoopObserver discards every event; the zero value is ready to use.
type NoopObserver struct{}

func (NoopObserver) OnMessage(protocol.Kind)                   {}
func (NoopObserver) OnHandlerDuration(protocol.Kind, time.Duration) {}
func (NoopObserver) OnError(*arberrors.ArbiterError)            {}
func (NoopObserver) OnDelayedAckDepth(int)                      {}
func (NoopObserver) OnAsyncInFlight(int)                        {}

// Dispatcher owns all scheduler state and the receive loop. Per
// spec.md §5, every field here is touched only from the goroutine
// running Run; no locking is needed inside the core.
type Dispatcher struct {
	reg      *registry.Registry
	tbl      *resources.Table
	maxCores int

	transport Transport
	logger    logging.Logger
	observer  Observer

	seqID uint64

	delayedSetupAcks []*registry.Client

	startTimeFirstClient      time.Time
	haveStartTimeFirstClient  bool
	sumShutdownHint           float64
	sumShutdownHintDivTime    float64
}

// New constructs a Dispatcher over an empty resource table of maxCores
// slots. observer may be nil, in which case events are discarded.
func New(t Transport, maxCores int, logger logging.Logger, observer Observer) *Dispatcher {
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{
		reg:       registry.New(),
		tbl:       resources.NewTable(maxCores),
		maxCores:  maxCores,
		transport: t,
		logger:    logger,
		observer:  observer,
	}
}

// SetObserver replaces the dispatcher's observer. Intended for callers
// that must construct the dispatcher before they can build the final
// observer (e.g. an inspector server that needs the dispatcher itself
// as its StateSource); must not be called once Run is underway.
func (d *Dispatcher) SetObserver(o Observer) {
	if o == nil {
		o = NoopObserver{}
	}
	d.observer = o
}

// Registry exposes the live client registry, for the inspector's
// read-only snapshot endpoint.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Table exposes the live resource table, for the inspector's read-only
// snapshot endpoint.
func (d *Dispatcher) Table() *resources.Table { return d.tbl }

// Run blocks, processing inbound messages until a CLIENT_SERVER_SHUTDOWN
// is received, the transport closes, or a fatal error occurs.
func (d *Dispatcher) Run() error {
	for {
		frame, err := d.transport.Receive()
		if err != nil {
			if stderrors.Is(err, transport.ErrClosed) {
				return nil
			}
			aerr := arberrors.New(arberrors.ErrCodeTransportFailure, "receive failed").WithCause(err)
			d.reportFatal(aerr)
			return aerr
		}

		kind, payload, err := protocol.Decode(frame)
		if err != nil {
			aerr := arberrors.New(arberrors.ErrCodeUnknownMessageKind, "malformed frame").WithCause(err)
			d.reportNonFatal(aerr)
			continue
		}
		if kind == protocol.KindClientServerShutdown {
			return nil
		}

		if err := d.dispatch(kind, payload); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) dispatch(kind protocol.Kind, payload any) error {
	start := time.Now()
	d.observer.OnMessage(kind)
	opLogger := logging.LogOperation(d.logger, kind.String())
	opLogger.Debug("dispatching message")

	var err error
	switch p := payload.(type) {
	case protocol.SetupRequest:
		err = d.handleSetup(p)
	case protocol.ShutdownRequest:
		err = d.handleShutdown(p)
	case protocol.InvadeRequest:
		err = d.handleInvade(p, kind == protocol.KindClientInvade)
	case protocol.ReinvadeRequest:
		err = d.handleReinvade(p)
	case protocol.ReinvadeAckNonblocking:
		err = d.handleReinvadeAck(p)
	case protocol.RetreatRequest:
		err = d.handleRetreat(p)
	default:
		err = arberrors.New(arberrors.ErrCodeUnknownMessageKind, fmt.Sprintf("unhandled payload for kind %s", kind))
	}

	d.observer.OnHandlerDuration(kind, time.Since(start))
	logging.LogDuration(opLogger, start, kind.String())

	if err == nil {
		return nil
	}
	aerr, ok := err.(*arberrors.ArbiterError)
	if !ok {
		return err
	}
	if aerr.Category.Fatal() {
		d.reportFatal(aerr)
		return aerr
	}
	d.reportNonFatal(aerr)
	return nil
}

func (d *Dispatcher) reportFatal(err *arberrors.ArbiterError) {
	d.observer.OnError(err)
	logging.LogError(d.logger, err, "fatal scheduler error, terminating",
		"code", string(err.Code), "category", string(err.Category))
	d.logger.Error("scheduler state at fatal error",
		"core_owners", d.tbl.Snapshot(), "delayed_acks", len(d.delayedSetupAcks),
		"sum_shutdown_hint", d.sumShutdownHint)
	for _, c := range d.reg.All() {
		d.logger.Error("client state at fatal error", "pid", c.PID, "client_id", c.ID,
			"assigned_cores", c.AssignedCores, "optimal_cores", c.OptimalCores)
	}
}

func (d *Dispatcher) reportNonFatal(err *arberrors.ArbiterError) {
	d.observer.OnError(err)
	d.logger.Warn("dropping message after protocol error",
		"code", string(err.Code), "error", err.Error())
}

// --- handlers ---

func (d *Dispatcher) handleSetup(req protocol.SetupRequest) error {
	if !d.haveStartTimeFirstClient {
		d.startTimeFirstClient = time.Now()
		d.haveStartTimeFirstClient = true
	}
	c := d.reg.Setup(req.PID)
	return d.sendAck(c.PID)
}

func (d *Dispatcher) handleShutdown(req protocol.ShutdownRequest) error {
	c := d.reg.ByPID(req.PID)
	if c == nil {
		return arberrors.New(arberrors.ErrCodeClientNotFound, "shutdown for unknown client").WithPID(req.PID)
	}

	d.tbl.ReleaseAll(c.ID)
	d.sumShutdownHint += req.ClientShutdownHint
	if d.haveStartTimeFirstClient {
		if elapsed := time.Since(d.startTimeFirstClient).Seconds(); elapsed > 0 {
			d.sumShutdownHintDivTime = d.sumShutdownHint / elapsed
		}
	}
	d.reg.Remove(c)

	d.runOptimizer()
	if err := d.sendAckShutdown(c.PID); err != nil {
		return err
	}
	d.flushDelayedAcks()
	d.broadcastAsyncReinvades()
	return nil
}

func (d *Dispatcher) handleInvade(req protocol.InvadeRequest, blocking bool) error {
	c := d.reg.ByPID(req.PID)
	if c == nil {
		return arberrors.New(arberrors.ErrCodeClientNotFound, "invade from unknown client").WithPID(req.PID)
	}
	if req.MinCPUs <= 0 || req.MaxCPUs <= 0 {
		return arberrors.New(arberrors.ErrCodeInvalidConstraint, "min/max cpus must be positive").WithPID(req.PID)
	}

	c.RetreatActive = false
	c.MinCores = clampConstraint(int(req.MinCPUs), d.maxCores)
	c.MaxCores = clampConstraint(int(req.MaxCPUs), d.maxCores)
	if c.MinCores > c.MaxCores {
		c.MinCores = c.MaxCores
	}
	c.DistributionHint = req.DistributionHint
	c.ScalabilityGraph = req.ScalabilityGraph

	d.runOptimizer()

	if blocking {
		changed := reconcile.Sync(d.tbl, c, c.OptimalCores)
		if c.NumAssignedCores() == 0 {
			d.delayedSetupAcks = append(d.delayedSetupAcks, c)
			d.observer.OnDelayedAckDepth(len(d.delayedSetupAcks))
			return nil
		}
		if err := d.sendInvadeAnswer(c, bool(changed)); err != nil {
			return err
		}
		d.broadcastAsyncReinvades()
		d.flushDelayedAcks()
		return nil
	}

	d.flushDelayedAcks()
	d.broadcastAsyncReinvades()
	return nil
}

func (d *Dispatcher) handleReinvade(req protocol.ReinvadeRequest) error {
	c := d.reg.ByPID(req.PID)
	if c == nil {
		return arberrors.New(arberrors.ErrCodeClientNotFound, "reinvade from unknown client").WithPID(req.PID)
	}

	var err error
	if c.ReinvadeNonblockingActive {
		// An async proposal is already outstanding for this client: the
		// spec's observed guard has the reinvade spin rather than race
		// a second proposal (see design notes on this behavior).
		err = d.sendInvadeAnswer(c, false)
	} else {
		changed := reconcile.Sync(d.tbl, c, c.OptimalCores)
		err = d.sendInvadeAnswer(c, bool(changed))
	}
	if err != nil {
		return err
	}

	d.flushDelayedAcks()
	d.broadcastAsyncReinvades()
	return nil
}

func (d *Dispatcher) handleReinvadeAck(req protocol.ReinvadeAckNonblocking) error {
	c := d.reg.ByPID(req.PID)
	if c == nil {
		return arberrors.New(arberrors.ErrCodeClientNotFound, "reinvade ack from unknown client").WithPID(req.PID)
	}

	affinity := make([]int, len(req.Affinity))
	for i, v := range req.Affinity {
		affinity[i] = int(v)
	}
	reconcile.Ack(d.logger, d.tbl, c, affinity)
	d.observer.OnAsyncInFlight(d.countAsyncInFlight())

	if c.RetreatActive {
		return nil
	}

	d.flushDelayedAcks()
	d.broadcastAsyncReinvades()
	return nil
}

func (d *Dispatcher) handleRetreat(req protocol.RetreatRequest) error {
	c := d.reg.ByPID(req.PID)
	if c == nil {
		return arberrors.New(arberrors.ErrCodeClientNotFound, "retreat from unknown client").WithPID(req.PID)
	}

	c.RetreatActive = true
	if c.NumAssignedCores() > 1 {
		dropped := c.DropHighestCores(c.NumAssignedCores() - 1)
		for _, core := range dropped {
			if err := d.tbl.Release(core, c.ID); err != nil {
				return arberrors.New(arberrors.ErrCodeOwnershipViolation, "retreat release failed").WithPID(c.PID).WithCause(err)
			}
		}
	}
	c.MinCores, c.MaxCores = 1, 1

	d.runOptimizer()
	if err := d.sendAck(c.PID); err != nil {
		return err
	}
	d.flushDelayedAcks()
	d.broadcastAsyncReinvades()
	return nil
}

// --- optimizer / reconciliation glue ---

func (d *Dispatcher) runOptimizer() {
	clients := d.reg.All()
	inputs := make([]optimizer.Client, len(clients))
	for i, c := range clients {
		inputs[i] = optimizer.Client{
			MinCores:         c.MinCores,
			MaxCores:         c.MaxCores,
			DistributionHint: c.DistributionHint,
			ScalabilityGraph: c.ScalabilityGraph,
		}
	}
	result := optimizer.Compute(inputs, d.maxCores)
	for i, c := range clients {
		c.OptimalCores = result[i]
	}
}

// flushDelayedAcks retries every parked blocking INVADE, per spec.md
// §4.5. Satisfying a parked client changes the table, so a successful
// pass is followed by a fresh async broadcast.
func (d *Dispatcher) flushDelayedAcks() {
	if len(d.delayedSetupAcks) == 0 {
		return
	}

	remaining := d.delayedSetupAcks[:0]
	anySatisfied := false
	for _, c := range d.delayedSetupAcks {
		if d.reg.IndexOf(c) < 0 {
			continue // client shut down while parked
		}
		changed := reconcile.Sync(d.tbl, c, c.OptimalCores)
		if changed && c.NumAssignedCores() > 0 {
			_ = d.sendInvadeAnswer(c, true)
			anySatisfied = true
			continue
		}
		remaining = append(remaining, c)
	}
	d.delayedSetupAcks = remaining
	d.observer.OnDelayedAckDepth(len(d.delayedSetupAcks))

	if anySatisfied {
		d.broadcastAsyncReinvades()
	}
}

// broadcastAsyncReinvades runs the unforced async reconciler across
// every live client; this is the step every state-changing handler
// triggers after it finishes (spec.md §4.5).
func (d *Dispatcher) broadcastAsyncReinvades() {
	for _, c := range d.reg.All() {
		proposed, ok := reconcile.Async(d.tbl, c, c.OptimalCores, false)
		if !ok {
			continue
		}
		affinity := make([]int32, len(proposed))
		for i, v := range proposed {
			affinity[i] = int32(v)
		}
		seq := d.nextSeq()
		payload := protocol.InvadeAnswer{
			PID: c.PID, SeqID: seq, AnythingChanged: true,
			NumberOfCores: int32(len(affinity)), Affinity: affinity,
		}
		frame, err := protocol.Encode(protocol.KindServerReinvadeNonblocking, payload)
		if err != nil {
			d.reportNonFatal(arberrors.New(arberrors.ErrCodeUnknownMessageKind, "encode reinvade failed").WithPID(c.PID).WithCause(err))
			continue
		}
		if err := d.transport.SendToClientAt(c.PID, frame); err != nil {
			d.reportFatal(arberrors.New(arberrors.ErrCodeTransportFailure, "send reinvade failed").WithPID(c.PID).WithCause(err))
		}
	}
	d.observer.OnAsyncInFlight(d.countAsyncInFlight())
}

func (d *Dispatcher) countAsyncInFlight() int {
	n := 0
	for _, c := range d.reg.All() {
		if c.ReinvadeNonblockingActive {
			n++
		}
	}
	return n
}

func clampConstraint(v, maxCores int) int {
	if v > maxCores {
		return maxCores
	}
	return v
}

// --- outbound messenger ---

func (d *Dispatcher) nextSeq() uint64 {
	d.seqID++
	return d.seqID
}

func (d *Dispatcher) sendAck(pid int32) error {
	seq := d.nextSeq()
	frame, err := protocol.Encode(protocol.KindServerAck, protocol.Ack{SeqID: seq})
	if err != nil {
		return arberrors.New(arberrors.ErrCodeUnknownMessageKind, "encode ack failed").WithPID(pid).WithCause(err)
	}
	if err := d.transport.SendToClientAt(pid, frame); err != nil {
		return arberrors.New(arberrors.ErrCodeTransportFailure, "send ack failed").WithPID(pid).WithCause(err)
	}
	return nil
}

func (d *Dispatcher) sendAckShutdown(pid int32) error {
	seq := d.nextSeq()
	payload := protocol.AckShutdown{
		SumShutdownHint:        d.sumShutdownHint,
		SumShutdownHintDivTime: d.sumShutdownHintDivTime,
		SeqID:                  seq,
	}
	frame, err := protocol.Encode(protocol.KindClientAckShutdown, payload)
	if err != nil {
		return arberrors.New(arberrors.ErrCodeUnknownMessageKind, "encode ack-shutdown failed").WithPID(pid).WithCause(err)
	}
	if err := d.transport.SendToClientAt(pid, frame); err != nil {
		return arberrors.New(arberrors.ErrCodeTransportFailure, "send ack-shutdown failed").WithPID(pid).WithCause(err)
	}
	return nil
}

func (d *Dispatcher) sendInvadeAnswer(c *registry.Client, anythingChanged bool) error {
	affinity := make([]int32, len(c.AssignedCores))
	for i, v := range c.AssignedCores {
		affinity[i] = int32(v)
	}
	seq := d.nextSeq()
	payload := protocol.InvadeAnswer{
		PID: c.PID, SeqID: seq, AnythingChanged: anythingChanged,
		NumberOfCores: int32(len(affinity)), Affinity: affinity,
	}
	frame, err := protocol.Encode(protocol.KindServerInvadeAnswer, payload)
	if err != nil {
		return arberrors.New(arberrors.ErrCodeUnknownMessageKind, "encode invade answer failed").WithPID(c.PID).WithCause(err)
	}
	if err := d.transport.SendToClientAt(c.PID, frame); err != nil {
		return arberrors.New(arberrors.ErrCodeTransportFailure, "send invade answer failed").WithPID(c.PID).WithCause(err)
	}
	return nil
}
