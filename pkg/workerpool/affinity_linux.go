// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package workerpool

import "golang.org/x/sys/unix"

// setThreadAffinity pins the calling OS thread to core. Callers must
// have already called runtime.LockOSThread, since CPU affinity is a
// per-thread, not per-process, Linux attribute.
func setThreadAffinity(core int) error {
	var mask unix.CPUSet
	mask.Set(core)
	return unix.SchedSetaffinity(0, &mask)
}
