// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"time"

	"github.com/jontk/core-arbiter/internal/protocol"
	arberrors "github.com/jontk/core-arbiter/pkg/errors"
)

// MultiObserver fans every event out to each of its members in order.
// Used by the root package's NewServer to feed both the metrics collector and the
// inspector's event broadcaster from a single Observer slot.
type MultiObserver []Observer

func (m MultiObserver) OnMessage(kind protocol.Kind) {
	for _, o := range m {
		o.OnMessage(kind)
	}
}

func (m MultiObserver) OnHandlerDuration(kind protocol.Kind, d time.Duration) {
	for _, o := range m {
		o.OnHandlerDuration(kind, d)
	}
}

func (m MultiObserver) OnError(err *arberrors.ArbiterError) {
	for _, o := range m {
		o.OnError(err)
	}
}

func (m MultiObserver) OnDelayedAckDepth(n int) {
	for _, o := range m {
		o.OnDelayedAckDepth(n)
	}
}

func (m MultiObserver) OnAsyncInFlight(n int) {
	for _, o := range m {
		o.OnAsyncInFlight(n)
	}
}
