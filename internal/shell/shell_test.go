// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jontk/core-arbiter/internal/protocol"
	"github.com/jontk/core-arbiter/internal/transport"
)

func TestShellStartStopWithNoClients(t *testing.T) {
	base := filepath.Join(t.TempDir(), "arbiter.sock")

	s, err := New(base, 4, 0, nil, nil)
	require.NoError(t, err)

	s.Start()
	require.NoError(t, s.Stop())
}

func TestShellStopBeforeStartJustClosesTransport(t *testing.T) {
	base := filepath.Join(t.TempDir(), "arbiter.sock")

	s, err := New(base, 4, 0, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
}

func TestShellServesARealClientThenShutsDown(t *testing.T) {
	base := filepath.Join(t.TempDir(), "arbiter.sock")

	s, err := New(base, 4, 0, nil, nil)
	require.NoError(t, err)
	s.Start()

	client, err := transport.OpenClient(base, 100, 0)
	require.NoError(t, err)
	defer client.Close()

	frame, err := protocol.Encode(protocol.KindClientSetup, protocol.SetupRequest{PID: 100})
	require.NoError(t, err)
	require.NoError(t, client.SendToServer(base, frame))

	reply, err := client.Receive()
	require.NoError(t, err)
	kind, payload, err := protocol.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, protocol.KindServerAck, kind)
	_, ok := payload.(protocol.Ack)
	require.True(t, ok)

	require.NoError(t, s.Stop())

	c := s.Dispatcher().Registry().ByPID(100)
	require.NotNil(t, c)
}

func TestShellStartTwiceIsIdempotent(t *testing.T) {
	base := filepath.Join(t.TempDir(), "arbiter.sock")

	s, err := New(base, 4, 0, nil, nil)
	require.NoError(t, err)

	s.Start()
	s.Start()
	require.NoError(t, s.Stop())
}
