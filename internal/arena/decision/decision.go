// Package decision abstracts the language-model service that drafts
// policy revisions. The arena treats it as an opaque, billed decision
// producer that may fail or time out.
package decision

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
)

// BidOutcome is one recent bid in the context payload.
type BidOutcome struct {
	JobType string  `json:"job_type"`
	Amount  string  `json:"amount"`
	Won     bool    `json:"won"`
	Round   int64   `json:"round"`
	MaxBid  string  `json:"max_bid,omitempty"`
	Margin  float64 `json:"margin,omitempty"`
}

// Context is the payload handed to the producer for one revision.
type Context struct {
	AgentID        string               `json:"agent_id"`
	AgentName      string               `json:"agent_name"`
	Trigger        domain.PolicyTrigger `json:"trigger"`
	Round          int64                `json:"round"`
	Balance        string               `json:"balance"`
	Reputation     float64              `json:"reputation"`
	TasksCompleted int64                `json:"tasks_completed"`
	TasksFailed    int64                `json:"tasks_failed"`
	TotalRevenue   string               `json:"total_revenue"`
	TotalCosts     string               `json:"total_costs"`
	RecentBids     []BidOutcome         `json:"recent_bids"`
	CurrentPolicy  domain.PolicyContent `json:"current_policy"`
}

// Decision is the producer's structured answer.
type Decision struct {
	Policy    domain.PolicyContent
	Rationale string
	// InvestorUpdate is the human-readable summary attached to periodic
	// reviews. Empty for exception revisions.
	InvestorUpdate string
	// Cost is the billed cost of the producer call, captured on the
	// resulting policy version.
	Cost decimal.Decimal
}

// Producer drafts policy revisions from performance context.
type Producer interface {
	Decide(ctx context.Context, payload Context) (Decision, error)
}
