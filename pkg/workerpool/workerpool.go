// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package workerpool implements the capability interface a client uses
// to resize and pin its own worker threads in reaction to an
// INVADE_ANSWER or SERVER_REINVADE_NONBLOCKING affinity set. Resizing
// and pinning are advisory to the arbiter: the dispatcher never calls
// into this package, it only ever grants core sets for a client to act
// on however its own pool implementation sees fit.
package workerpool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/jontk/core-arbiter/pkg/logging"
)

// Backend is the capability set spec.md §9 requires of any pool a
// sample client wires up to react to granted core sets.
type Backend interface {
	// SetNumThreads resizes the pool to exactly n workers.
	SetNumThreads(n int) error
	// SetAffinity maps the pool's workers onto coreIDs, round-robin if
	// there are fewer core ids than workers.
	SetAffinity(coreIDs []int) error
	// NumThreads reports the pool's current worker count.
	NumThreads() int
	// MaxThreads reports the largest worker count this pool will accept.
	MaxThreads() int
}

// GoroutinePool is the "omp" backend: a plain goroutine pool with no OS
// thread pinning. SetAffinity is advisory only, since individual
// goroutines cannot be pinned to a core without first locking them to
// an OS thread.
type GoroutinePool struct {
	mu         sync.Mutex
	logger     logging.Logger
	maxThreads int

	workers []chan struct{} // each worker's stop signal
	wg      sync.WaitGroup
}

// NewGoroutinePool constructs an empty GoroutinePool. maxThreads bounds
// SetNumThreads; if zero, runtime.NumCPU() is used.
func NewGoroutinePool(maxThreads int, logger logging.Logger) *GoroutinePool {
	if maxThreads <= 0 {
		maxThreads = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &GoroutinePool{maxThreads: maxThreads, logger: logger}
}

func (p *GoroutinePool) MaxThreads() int { return p.maxThreads }

func (p *GoroutinePool) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// SetNumThreads grows or shrinks the pool to exactly n workers, started
// or stopped as plain goroutines parked on their stop channel.
func (p *GoroutinePool) SetNumThreads(n int) error {
	if n < 0 || n > p.maxThreads {
		return fmt.Errorf("workerpool: requested %d threads exceeds max %d", n, p.maxThreads)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.workers) < n {
		stop := make(chan struct{})
		p.workers = append(p.workers, stop)
		p.wg.Add(1)
		go func(stop chan struct{}) {
			defer p.wg.Done()
			<-stop
		}(stop)
	}
	for len(p.workers) > n {
		last := len(p.workers) - 1
		close(p.workers[last])
		p.workers = p.workers[:last]
	}
	return nil
}

// SetAffinity logs that goroutine-pool workers are not individually
// pinnable and otherwise does nothing; a client that needs real pinning
// should use PinnedPool instead.
func (p *GoroutinePool) SetAffinity(coreIDs []int) error {
	p.logger.Warn("goroutine pool cannot pin unpinned goroutines to cores; affinity request ignored",
		"requested_cores", coreIDs)
	return nil
}
