// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/jontk/core-arbiter/pkg/logging"
)

// PinnedPool is the "tbb" backend: one runtime.LockOSThread-ed OS thread
// per worker, each pinned to its assigned core via setThreadAffinity.
// On non-Linux targets setThreadAffinity is a silent no-op (see
// affinity_linux.go / affinity_other.go).
type PinnedPool struct {
	mu         sync.Mutex
	logger     logging.Logger
	maxThreads int

	workers []*pinnedWorker
}

type pinnedWorker struct {
	stop  chan struct{}
	pinTo chan int // core id to pin to; closed worker ignores further sends
}

// NewPinnedPool constructs an empty PinnedPool. maxThreads bounds
// SetNumThreads; if zero, runtime.NumCPU() is used.
func NewPinnedPool(maxThreads int, logger logging.Logger) *PinnedPool {
	if maxThreads <= 0 {
		maxThreads = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &PinnedPool{maxThreads: maxThreads, logger: logger}
}

func (p *PinnedPool) MaxThreads() int { return p.maxThreads }

func (p *PinnedPool) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// SetNumThreads grows or shrinks the pool to exactly n workers, each a
// dedicated, OS-thread-locked goroutine parked waiting for either a
// pin request or its stop signal.
func (p *PinnedPool) SetNumThreads(n int) error {
	if n < 0 || n > p.maxThreads {
		return fmt.Errorf("workerpool: requested %d threads exceeds max %d", n, p.maxThreads)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.workers) < n {
		w := &pinnedWorker{stop: make(chan struct{}), pinTo: make(chan int, 1)}
		p.workers = append(p.workers, w)
		go p.runWorker(w)
	}
	for len(p.workers) > n {
		last := len(p.workers) - 1
		close(p.workers[last].stop)
		p.workers = p.workers[:last]
	}
	return nil
}

func (p *PinnedPool) runWorker(w *pinnedWorker) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case core := <-w.pinTo:
			if err := setThreadAffinity(core); err != nil {
				p.logger.Warn("failed to pin worker thread", "core", core, "error", err)
			}
		case <-w.stop:
			return
		}
	}
}

// SetAffinity assigns coreIDs to the pool's workers round-robin and
// pins each worker's own locked OS thread to its assigned core.
func (p *PinnedPool) SetAffinity(coreIDs []int) error {
	if len(coreIDs) == 0 {
		return fmt.Errorf("workerpool: SetAffinity requires at least one core id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, w := range p.workers {
		core := coreIDs[i%len(coreIDs)]
		select {
		case w.pinTo <- core:
		default:
			// a prior pin request is still being applied; drop it, a
			// future SetAffinity call will settle the worker's core.
		}
	}
	return nil
}
