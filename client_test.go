// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package arbiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arbiter "github.com/jontk/core-arbiter"
)

// TestClientDrainsUnsolicitedReinvadeBeforeMatchingReply exercises the
// scenario where client A holds every core and client B's arrival
// causes the server to push A an unsolicited SERVER_REINVADE_NONBLOCKING
// offer: A's next call (Retreat) must still find its own Ack rather
// than tripping over the stashed offer.
func TestClientDrainsUnsolicitedReinvadeBeforeMatchingReply(t *testing.T) {
	socket := newTempSocket(t)

	srv, err := arbiter.NewServer(arbiter.ServerConfig{SocketPath: socket, MaxCores: 4})
	require.NoError(t, err)
	srv.Start()
	defer srv.Close()

	a, err := arbiter.NewClient(socket, 100, 0)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Setup()
	require.NoError(t, err)
	_, err = a.Invade(1, 4, 0, nil)
	require.NoError(t, err)

	b, err := arbiter.NewClient(socket, 200, 0)
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Setup()
	require.NoError(t, err)
	require.NoError(t, b.InvadeNonblocking(1, 2, 0, nil))

	// A's queue may now hold an unsolicited reinvade offer ahead of
	// whatever Retreat's Ack will be; Retreat must still succeed.
	require.NoError(t, a.Retreat())
	require.NoError(t, b.Retreat())

	if offer := a.PendingReinvade(); offer != nil {
		assert.GreaterOrEqual(t, offer.NumberOfCores, int32(0))
	}
}
