// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"errors"
	"sync"
)

// fakeTransport is an in-process stand-in for *transport.Endpoint: tests
// drive the dispatcher directly via dispatch() and inspect fakeTransport's
// outbox instead of a real socket (SPEC_FULL.md §8).
type fakeTransport struct {
	mu       sync.Mutex
	outbox   map[int32][][]byte
	failNext bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{outbox: make(map[int32][][]byte)}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	return nil, errors.New("fake transport: Receive unused in these tests")
}

func (f *fakeTransport) SendToClientAt(pid int32, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("fake transport: simulated send failure")
	}
	f.outbox[pid] = append(f.outbox[pid], frame)
	return nil
}

func (f *fakeTransport) lastTo(pid int32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.outbox[pid]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) countTo(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outbox[pid])
}
