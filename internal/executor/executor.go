// Package executor defines the order-placement capability the pipeline
// dispatches through.
//
// Executor is deliberately narrow so alternative adapters (a native HTTP
// signer, an in-process simulator) can replace the default without
// touching the pipeline. The only live implementation in v1 shells out to
// the operator's existing Python tooling (the "python-bridge"), which owns
// credentials, signing, and relayer mechanics.
package executor

import (
	"context"
	"fmt"

	"polymarket-copytrader/pkg/types"
)

// Result is the outcome of one placement attempt. Message carries the
// adapter's combined output for logging; it is never parsed.
type Result struct {
	Success bool
	Message string
}

// Executor places one mirror order. Implementations are invoked serially
// per trade but concurrently across trades up to the engine's parallelism
// ceiling.
type Executor interface {
	PlaceOrder(ctx context.Context, order types.MirrorOrder) Result
}

// New returns the executor for the configured liveExec value.
// Unknown values yield an executor that fails every placement with an
// explanatory message, so misconfiguration is visible per trade rather
// than fatal at startup.
func New(liveExec, pythonBin, script string) Executor {
	switch liveExec {
	case "python-bridge":
		return NewPythonBridge(pythonBin, script)
	default:
		return unsupported(liveExec)
	}
}

type unsupported string

func (u unsupported) PlaceOrder(ctx context.Context, order types.MirrorOrder) Result {
	return Result{
		Success: false,
		Message: fmt.Sprintf("live-exec %q is not supported (only python-bridge)", string(u)),
	}
}
