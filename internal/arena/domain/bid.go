package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus represents lifecycle state for a bid. Bids are immutable once
// the status leaves pending.
type BidStatus string

const (
	// BidPending awaits auction clearing.
	BidPending BidStatus = "pending"
	// BidWon was selected by the auction.
	BidWon BidStatus = "won"
	// BidLost was outbid or exceeded the job's maximum.
	BidLost BidStatus = "lost"
)

// Bid is one agent's offer on one job. Sequence is assigned at submission
// and orders bids within a job for deterministic tie-breaking.
type Bid struct {
	ID        string
	JobID     string
	AgentID   string
	Amount    decimal.Decimal
	Status    BidStatus
	Sequence  int64
	CreatedAt time.Time
}
