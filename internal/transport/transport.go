// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the local, path-addressed datagram channel
// the arbiter protocol rides on. It is the one component in this module
// built directly on the standard library rather than a pack dependency —
// see DESIGN.md for why no example repo offers a suitable substitute for
// raw Unix-domain datagram sockets with custom binary framing.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultQueueBytes is the default socket buffer cap applied to both the
// read and write side of every endpoint opened by this package.
const DefaultQueueBytes = 1 << 20 // 1 MiB

// ErrClosed is returned by Receive once the endpoint has been closed.
var ErrClosed = errors.New("transport: endpoint closed")

// Endpoint is one side of the local datagram channel: a socket bound to
// its own receive address, capable of sending to any other participant's
// address on the same base path.
type Endpoint struct {
	conn *net.UnixConn
	addr *net.UnixAddr
}

// clientPath derives the filesystem path a client with the given pid
// listens on, from the channel's shared base path.
func clientPath(basePath string, pid int32) string {
	return basePath + "." + strconv.FormatInt(int64(pid), 10)
}

// OpenServer binds the server's well-known receive address at basePath.
// Any stale socket file left over from a prior run is removed first —
// the server is the sole owner of the channel (spec.md §5).
func OpenServer(basePath string, queueBytes int) (*Endpoint, error) {
	return open(basePath, queueBytes)
}

// OpenClient binds a client's receive address, derived from basePath and
// its pid, so that server->client sends can be routed to it.
func OpenClient(basePath string, pid int32, queueBytes int) (*Endpoint, error) {
	return open(clientPath(basePath, pid), queueBytes)
}

func open(path string, queueBytes int) (*Endpoint, error) {
	if queueBytes <= 0 {
		queueBytes = DefaultQueueBytes
	}
	_ = os.Remove(path) // best effort; a fresh bind will fail loudly if still in use

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", path, err)
	}
	if err := conn.SetReadBuffer(queueBytes); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: set read buffer: %w", err)
	}
	if err := conn.SetWriteBuffer(queueBytes); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: set write buffer: %w", err)
	}

	return &Endpoint{conn: conn, addr: addr}, nil
}

// SendToServer sends frame to the server's well-known address.
func (e *Endpoint) SendToServer(basePath string, frame []byte) error {
	return e.sendTo(basePath, frame)
}

// SendToClient sends frame to the client identified by pid.
func (e *Endpoint) SendToClient(basePath string, pid int32, frame []byte) error {
	return e.sendTo(clientPath(basePath, pid), frame)
}

// SendToClientAt sends frame to the client identified by pid, deriving
// the base path from e's own bound address. Valid only on the server's
// endpoint, whose address is the channel's well-known base path.
func (e *Endpoint) SendToClientAt(pid int32, frame []byte) error {
	return e.sendTo(clientPath(e.addr.Name, pid), frame)
}

func (e *Endpoint) sendTo(path string, frame []byte) error {
	dst := &net.UnixAddr{Name: path, Net: "unixgram"}
	n, err := e.conn.WriteToUnix(frame, dst)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", path, err)
	}
	if n != len(frame) {
		return fmt.Errorf("transport: short write to %s (%d of %d bytes)", path, n, len(frame))
	}
	return nil
}

// maxFrameBytes bounds a single inbound datagram; large enough for a
// scalability graph or affinity array spanning every core on any
// plausible node.
const maxFrameBytes = 1 << 16

// Receive blocks for the next inbound frame addressed to this endpoint.
func (e *Endpoint) Receive() ([]byte, error) {
	buf := make([]byte, maxFrameBytes)
	n, _, err := e.conn.ReadFromUnix(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	return buf[:n], nil
}

// Close releases the endpoint and removes its socket file.
func (e *Endpoint) Close() error {
	err := e.conn.Close()
	if e.addr != nil {
		_ = os.Remove(e.addr.Name)
	}
	return err
}

// Path returns the filesystem path this endpoint is bound to.
func (e *Endpoint) Path() string {
	return e.addr.Name
}
