// Package payment abstracts the external payment-channel gateway used to
// settle job revenue and escrow claims.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Receipt is the gateway's answer to a settlement attempt. Settled=false
// with Paid=true never occurs; a degraded rail reports both false and the
// caller falls back to direct balance accounting.
type Receipt struct {
	Paid    bool
	Settled bool
	TxHash  string
	Status  int
	Body    string
}

// Gateway is the consumed payment-channel interface.
type Gateway interface {
	// Settle pays amount to recipient. An unpaid 402-style response is
	// returned as a Receipt with Paid=false, not as an error; errors mean
	// the gateway itself was unreachable.
	Settle(ctx context.Context, recipient string, amount decimal.Decimal, description string) (Receipt, error)
	// TopUpGas requests a best-effort gas top-up for the wallet. Callers
	// treat failures as log-and-ignore.
	TopUpGas(ctx context.Context, wallet string) error
}
