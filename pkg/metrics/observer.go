// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/jontk/core-arbiter/internal/protocol"
	arberrors "github.com/jontk/core-arbiter/pkg/errors"
)

// DispatcherObserver adapts a Collector to the method set
// dispatcher.Observer expects, without this package importing
// internal/dispatcher. Every method is a direct forward; the mapping
// from protocol.Kind/arberrors.Code to string is the only translation
// happening here.
type DispatcherObserver struct {
	Collector Collector
}

// NewDispatcherObserver wraps collector. A nil collector is replaced
// with a NoOpCollector so callers can pass an optional collector
// straight through.
func NewDispatcherObserver(collector Collector) DispatcherObserver {
	if collector == nil {
		collector = NoOpCollector{}
	}
	return DispatcherObserver{Collector: collector}
}

func (o DispatcherObserver) OnMessage(kind protocol.Kind) {
	o.Collector.RecordMessage(kind.String())
}

func (o DispatcherObserver) OnHandlerDuration(kind protocol.Kind, d time.Duration) {
	o.Collector.RecordHandlerDuration(kind.String(), d)
}

func (o DispatcherObserver) OnError(err *arberrors.ArbiterError) {
	o.Collector.RecordError(string(err.Code))
}

func (o DispatcherObserver) OnDelayedAckDepth(n int) {
	o.Collector.SetDelayedAckDepth(n)
}

func (o DispatcherObserver) OnAsyncInFlight(n int) {
	o.Collector.SetAsyncInFlight(n)
}
