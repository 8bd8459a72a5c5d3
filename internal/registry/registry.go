// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package registry

import "github.com/jontk/core-arbiter/internal/resources"

// Registry is the server's ordered client list. Enumeration order is
// significant: it is the index the optimizer's output vector uses
// (spec.md §3), so clients are never reordered once appended.
type Registry struct {
	clients []*Client
	nextID  resources.ClientID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{nextID: 1}
}

// Setup creates a new client record for pid, assigns it the next
// monotonic client id (never reused, per spec.md §3), and appends it.
func (r *Registry) Setup(pid int32) *Client {
	c := &Client{
		PID:      pid,
		ID:       r.nextID,
		MinCores: 1,
		MaxCores: 1,
	}
	r.nextID++
	r.clients = append(r.clients, c)
	return c
}

// ByPID returns the client with the given pid, or nil if none is live.
func (r *Registry) ByPID(pid int32) *Client {
	for _, c := range r.clients {
		if c.PID == pid {
			return c
		}
	}
	return nil
}

// IndexOf returns c's position in enumeration order, or -1 if c is not
// (or is no longer) registered.
func (r *Registry) IndexOf(c *Client) int {
	for i, other := range r.clients {
		if other == c {
			return i
		}
	}
	return -1
}

// All returns the client list in enumeration order. Callers must not
// retain or mutate the returned slice's backing array across a Remove.
func (r *Registry) All() []*Client {
	return r.clients
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Remove deletes c from the registry, shifting later entries down one
// position. It is a no-op if c is not present.
func (r *Registry) Remove(c *Client) {
	idx := r.IndexOf(c)
	if idx < 0 {
		return
	}
	r.clients = append(r.clients[:idx], r.clients[idx+1:]...)
}
