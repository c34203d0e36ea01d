package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestorEscrow tracks accrued revenue share for one (agent, investor)
// pair.
//
// Invariant: AvailableToClaim() = TotalEarned - TotalClaimed, always >= 0.
type InvestorEscrow struct {
	AgentID         string
	InvestorAddress string
	TotalEarned     decimal.Decimal
	TotalClaimed    decimal.Decimal
	UpdatedAt       time.Time
}

// AvailableToClaim returns the claimable balance.
func (e InvestorEscrow) AvailableToClaim() decimal.Decimal {
	return e.TotalEarned.Sub(e.TotalClaimed)
}

// ClaimStatus marks the bookkeeping outcome of one escrow claim.
type ClaimStatus string

const (
	// ClaimPaid settled and was recorded normally.
	ClaimPaid ClaimStatus = "paid"
	// ClaimReconcile settled externally but the bookkeeping write failed;
	// the payment is never reversed, the record flags it for operators.
	ClaimReconcile ClaimStatus = "reconcile"
)

// EscrowClaim is one append-only claim record.
type EscrowClaim struct {
	ID              string
	AgentID         string
	InvestorAddress string
	Amount          decimal.Decimal
	TxHash          string
	Status          ClaimStatus
	CreatedAt       time.Time
}
