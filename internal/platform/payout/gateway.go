// Package payout adapts the external payment processor behind the narrow
// gateway contract the escrow core depends on. Gateway calls are network I/O:
// they run after the state transition has committed, never inside it.
package payout

import (
	"context"
	"fmt"
)

// Gateway sends transfers and refunds to the payment processor. Both calls
// are safe to retry from the caller's perspective; the core guarantees
// exactly-once state transition, not exactly-once delivery to the gateway.
type Gateway interface {
	// CreateTransfer moves amount cents to the trainer's destination account
	// and returns the processor's transfer id.
	CreateTransfer(ctx context.Context, amount int64, destination, description string) (string, error)

	// CreateRefund returns amount cents to the parent against the original
	// captured payment and returns the processor's refund id.
	CreateRefund(ctx context.Context, paymentReference string, amount int64) (string, error)
}

// GatewayError wraps a failed or timed-out gateway call. Per the fail-open
// policy it is surfaced as a warning, never as a transaction failure: the
// escrow status has already committed when the call is made.
type GatewayError struct {
	Op  string // "create_transfer" or "create_refund"
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payout gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
