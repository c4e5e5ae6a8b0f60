// bridge.go shells out to the Python order-placement script.
//
// The bridge runs one subprocess per order with a fixed argument shape:
//
//	python3 scripts/place_order_once.py \
//	    --token-id <id> --price <px> --size <shares> --side BUY --order-type FOK
//
// Exit code 0 means the order was accepted; anything else is a failure.
// Stdout and stderr are concatenated into the Result message either way.
// Orders are always FOK so a partial book cannot leave a resting order
// the engine would never cancel.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"polymarket-copytrader/pkg/types"
)

// PythonBridge invokes the operator's Python tooling for live placement.
type PythonBridge struct {
	pythonBin string
	script    string
}

// NewPythonBridge creates the bridge adapter.
func NewPythonBridge(pythonBin, script string) *PythonBridge {
	return &PythonBridge{pythonBin: pythonBin, script: script}
}

// PlaceOrder runs the bridge subprocess and waits for it to exit.
// The subprocess is detached from ctx cancellation: once an order is on
// its way out it must be allowed to complete, and a shutdown simply
// ignores the result. Killing it mid-placement could leave an order
// accepted upstream with no record here.
func (b *PythonBridge) PlaceOrder(ctx context.Context, order types.MirrorOrder) Result {
	args := []string{
		b.script,
		"--token-id", order.TokenID,
		"--price", strconv.FormatFloat(order.Price, 'f', -1, 64),
		"--size", strconv.FormatFloat(order.Shares, 'f', -1, 64),
		"--side", string(order.Side),
		"--order-type", "FOK",
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), b.pythonBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	msg := strings.TrimSpace(stdout.String() + stderr.String())
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		return Result{Success: false, Message: msg}
	}
	return Result{Success: true, Message: msg}
}
