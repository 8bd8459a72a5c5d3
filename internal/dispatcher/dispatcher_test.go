// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontk/core-arbiter/internal/protocol"
	"github.com/jontk/core-arbiter/internal/resources"
)

func newTestDispatcher(maxCores int) (*fakeTransport, *Dispatcher) {
	tr := newFakeTransport()
	return tr, New(tr, maxCores, nil, nil)
}

func decodeInvadeAnswer(t *testing.T, frame []byte) (protocol.Kind, protocol.InvadeAnswer) {
	t.Helper()
	kind, payload, err := protocol.Decode(frame)
	require.NoError(t, err)
	ia, ok := payload.(protocol.InvadeAnswer)
	require.True(t, ok, "expected InvadeAnswer-shaped payload, got %T", payload)
	return kind, ia
}

func int32sToInts(vs []int32) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}
	return out
}

// assertOwnershipInvariants checks the two capacity/ownership testable
// properties from spec.md §8 against the dispatcher's live state.
func assertOwnershipInvariants(t *testing.T, d *Dispatcher) {
	t.Helper()
	total := 0
	for _, c := range d.reg.All() {
		total += c.NumAssignedCores()
		for _, core := range c.AssignedCores {
			assert.Equal(t, resources.ClientID(c.ID), d.tbl.OwnerOf(core),
				"core %d claimed by client %d but table disagrees", core, c.ID)
		}
	}
	assert.LessOrEqual(t, total, d.maxCores)
}

// --- scenario 1: solo client ---

func TestScenarioSoloClient(t *testing.T) {
	tr, d := newTestDispatcher(4)

	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 100}))
	_, ack, err := protocol.Decode(tr.lastTo(100))
	require.NoError(t, err)
	assert.IsType(t, protocol.Ack{}, ack)

	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 100, MinCPUs: 1, MaxCPUs: 4}))
	kind, ia := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.Equal(t, protocol.KindServerInvadeAnswer, kind)
	assert.True(t, ia.AnythingChanged)
	assert.Equal(t, []int{0, 1, 2, 3}, int32sToInts(ia.Affinity))

	require.NoError(t, d.dispatch(protocol.KindClientRetreat, protocol.RetreatRequest{PID: 100}))
	c := d.reg.ByPID(100)
	require.NotNil(t, c)
	assert.Equal(t, []int{0}, c.AssignedCores)

	require.NoError(t, d.dispatch(protocol.KindClientShutdown, protocol.ShutdownRequest{PID: 100}))
	assert.Equal(t, 4, d.tbl.FreeCores())
	assertOwnershipInvariants(t, d)
}

// --- scenario 3: scalability bias, resolved through sync + async handshakes ---

func TestScenarioScalabilityBiasConvergesThroughHandshake(t *testing.T) {
	tr, d := newTestDispatcher(4)

	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 100})) // A
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 200})) // B

	// A invades with a sublinear graph; B is still at its default (1,1)
	// so the optimizer gives A everything but one reserved core.
	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{
		PID: 100, MinCPUs: 1, MaxCPUs: 4,
		ScalabilityGraph: []float64{1, 1.1, 1.15, 1.17},
	}))
	_, ia := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.Equal(t, []int{1, 2, 3}, int32sToInts(ia.Affinity))

	// The post-invade broadcast proposes B's single reserved core async.
	_, bProposal := decodeInvadeAnswer(t, tr.lastTo(200))
	assert.Equal(t, []int{0}, int32sToInts(bProposal.Affinity))
	require.NoError(t, d.dispatch(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: 200, NumberOfCores: 1, Affinity: []int32{0},
	}))

	// B invades with a near-linear graph; the optimizer now favors B.
	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{
		PID: 200, MinCPUs: 1, MaxCPUs: 4,
		ScalabilityGraph: []float64{1, 1.9, 2.7, 3.4},
	}))
	a := d.reg.ByPID(100)
	b := d.reg.ByPID(200)
	assert.Equal(t, 1, a.OptimalCores)
	assert.Equal(t, 3, b.OptimalCores)

	// No core is free yet, so B's blocking answer reports no change, and
	// the broadcast proposes shrinking A down to its new optimum.
	_, bAnswer := decodeInvadeAnswer(t, tr.lastTo(200))
	assert.False(t, bAnswer.AnythingChanged)
	_, aProposal := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.Equal(t, []int{3}, int32sToInts(aProposal.Affinity))
	require.NoError(t, d.dispatch(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: 100, NumberOfCores: 1, Affinity: []int32{3},
	}))

	// Freeing cores 1 and 2 lets the broadcast grow B toward its optimum.
	_, bGrow := decodeInvadeAnswer(t, tr.lastTo(200))
	assert.ElementsMatch(t, []int{0, 1, 2}, int32sToInts(bGrow.Affinity))
	require.NoError(t, d.dispatch(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: 200, NumberOfCores: 3, Affinity: bGrow.Affinity,
	}))

	assert.Equal(t, 1, a.NumAssignedCores())
	assert.Equal(t, 3, b.NumAssignedCores())
	assertOwnershipInvariants(t, d)
}

// --- scenario 4: non-blocking invade ---

func TestScenarioNonblockingInvadeGatesSecondProposal(t *testing.T) {
	tr, d := newTestDispatcher(4)
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 100}))

	require.NoError(t, d.dispatch(protocol.KindClientInvadeNonblocking, protocol.InvadeRequest{
		PID: 100, MinCPUs: 1, MaxCPUs: 4,
	}))
	kind, proposal := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.Equal(t, protocol.KindServerReinvadeNonblocking, kind)
	assert.Equal(t, []int{0, 1, 2, 3}, int32sToInts(proposal.Affinity))
	countAfterProposal := tr.countTo(100)

	a := d.reg.ByPID(100)
	require.True(t, a.ReinvadeNonblockingActive)

	// A second state-changing event (B's nonblocking invade, which runs
	// the async broadcast and lowers A's target below its four cores)
	// must not emit a further proposal to A while its first is unacked.
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 200}))
	require.NoError(t, d.dispatch(protocol.KindClientInvadeNonblocking, protocol.InvadeRequest{
		PID: 200, MinCPUs: 1, MaxCPUs: 4,
	}))
	assert.Equal(t, countAfterProposal, tr.countTo(100))

	require.NoError(t, d.dispatch(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: 100, NumberOfCores: 2, Affinity: []int32{0, 1},
	}))
	assert.Equal(t, []int{0, 1}, a.AssignedCores)
	assert.Equal(t, resources.FreeCore, d.tbl.OwnerOf(2))
	assert.Equal(t, resources.FreeCore, d.tbl.OwnerOf(3))
	assertOwnershipInvariants(t, d)
}

// --- scenario 5: delayed ack ---

func TestScenarioDelayedAckSatisfiedOnShutdown(t *testing.T) {
	tr, d := newTestDispatcher(4)
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 100}))
	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 100, MinCPUs: 1, MaxCPUs: 4}))

	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 200}))
	setupCount := tr.countTo(200)
	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 200, MinCPUs: 1, MaxCPUs: 4}))

	// No cores are free: B's blocking invade is parked, not answered.
	assert.Equal(t, setupCount, tr.countTo(200))
	assert.Len(t, d.delayedSetupAcks, 1)

	require.NoError(t, d.dispatch(protocol.KindClientShutdown, protocol.ShutdownRequest{PID: 100}))
	assert.Empty(t, d.delayedSetupAcks)
	_, ia := decodeInvadeAnswer(t, tr.lastTo(200))
	assert.True(t, ia.AnythingChanged)
	assert.Equal(t, []int{0, 1, 2, 3}, int32sToInts(ia.Affinity))
	assertOwnershipInvariants(t, d)
}

// --- scenario 6 / retreat-under-async invariant ---

func TestRetreatDuringAsyncSkipsFlushAndBroadcast(t *testing.T) {
	tr, d := newTestDispatcher(4)
	a := d.reg.Setup(100)
	a.MinCores, a.MaxCores = 1, 1
	require.NoError(t, d.tbl.Claim(0, a.ID))
	a.AddCore(0)
	a.ReinvadeNonblockingActive = true
	a.RetreatActive = true

	require.NoError(t, d.dispatch(protocol.KindClientReinvadeAckNonblocking, protocol.ReinvadeAckNonblocking{
		PID: 100, NumberOfCores: 1, Affinity: []int32{0},
	}))

	assert.False(t, a.ReinvadeNonblockingActive)
	assert.LessOrEqual(t, a.NumAssignedCores(), 1)
	assert.Equal(t, 0, tr.countTo(100), "retreat_active must skip the flush/broadcast step")
}

func TestRetreatPostcondition(t *testing.T) {
	_, d := newTestDispatcher(4)
	a := d.reg.Setup(100)
	for _, core := range []int{0, 1, 2, 3} {
		require.NoError(t, d.tbl.Claim(core, a.ID))
		a.AddCore(core)
	}

	require.NoError(t, d.dispatch(protocol.KindClientRetreat, protocol.RetreatRequest{PID: 100}))
	assert.Equal(t, 1, a.NumAssignedCores())
	assert.Equal(t, 1, a.MinCores)
	assert.Equal(t, 1, a.MaxCores)
	assert.True(t, a.RetreatActive)
}

// --- testable properties from spec.md §8 ---

func TestIdempotentReinvadeProducesNoChangeAndNoMutation(t *testing.T) {
	tr, d := newTestDispatcher(4)
	a := d.reg.Setup(100)
	a.MinCores, a.MaxCores, a.OptimalCores = 1, 1, 1
	require.NoError(t, d.tbl.Claim(0, a.ID))
	a.AddCore(0)

	require.NoError(t, d.dispatch(protocol.KindClientReinvade, protocol.ReinvadeRequest{PID: 100}))

	assert.Equal(t, 1, tr.countTo(100))
	_, ia := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.False(t, ia.AnythingChanged)
	assert.Equal(t, resources.ClientID(a.ID), d.tbl.OwnerOf(0))
	assert.Equal(t, 3, d.tbl.FreeCores())
}

func TestReinvadeWhileAsyncProposalOutstandingSpins(t *testing.T) {
	tr, d := newTestDispatcher(4)
	a := d.reg.Setup(100)
	a.ReinvadeNonblockingActive = true

	require.NoError(t, d.dispatch(protocol.KindClientReinvade, protocol.ReinvadeRequest{PID: 100}))
	_, ia := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.False(t, ia.AnythingChanged)
}

func TestSeqIDStrictlyIncreasing(t *testing.T) {
	tr, d := newTestDispatcher(4)
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 100}))
	_, ack0, err := protocol.Decode(tr.lastTo(100))
	require.NoError(t, err)
	a0 := ack0.(protocol.Ack)

	// A's invade answer, sent after B's setup ack, must carry a strictly
	// later seq-id than A's setup ack.
	require.NoError(t, d.dispatch(protocol.KindClientSetup, protocol.SetupRequest{PID: 200}))
	require.NoError(t, d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 100, MinCPUs: 1, MaxCPUs: 4}))

	_, ia := decodeInvadeAnswer(t, tr.lastTo(100))
	assert.Greater(t, ia.SeqID, a0.SeqID)
}

func TestUnknownClientIsNonFatalAndLogged(t *testing.T) {
	_, d := newTestDispatcher(4)
	err := d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 999, MinCPUs: 1, MaxCPUs: 4})
	assert.NoError(t, err, "not-found is logged and dropped, not propagated as fatal")
}

func TestInvalidConstraintIsDroppedNotFatal(t *testing.T) {
	_, d := newTestDispatcher(4)
	d.reg.Setup(100)
	err := d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 100, MinCPUs: 0, MaxCPUs: 0})
	assert.NoError(t, err)
}

func TestTransportFailureIsFatal(t *testing.T) {
	tr, d := newTestDispatcher(4)
	tr.failNext = true
	a := d.reg.Setup(100)
	_ = a
	err := d.dispatch(protocol.KindClientInvade, protocol.InvadeRequest{PID: 100, MinCPUs: 1, MaxCPUs: 4})
	require.Error(t, err)
}
