package reconcile

import (
	"context"

	"github.com/extsync/core/go/signal"
)

// Signal, ErrInterrupted and the stock implementations are re-exported from
// go/signal, which also backs store.Tx's row-level polling: pipelines and
// the store they share a transaction with must agree on one cancellation
// type.
type Signal = signal.Signal

// ErrInterrupted is returned by a Signal when cancellation fired.
var ErrInterrupted = signal.ErrInterrupted

// NeverCancel never cancels the batch it's checked in.
type NeverCancel = signal.Never

// FuncSignal adapts a closure to Signal.
type FuncSignal = signal.Func

// ContextSignal adapts a context.Context's Done() into Signal, for callers
// already driven by context.Context cancellation.
func ContextSignal(ctx context.Context) Signal {
	return signal.FromContext(ctx)
}
