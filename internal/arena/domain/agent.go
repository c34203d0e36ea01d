package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus represents lifecycle state for an arena agent.
type AgentStatus string

const (
	// AgentActive allows bidding and job execution.
	AgentActive AgentStatus = "ACTIVE"
	// AgentLowFunds still allows bidding but signals a balance below the
	// configured warning threshold.
	AgentLowFunds AgentStatus = "LOW_FUNDS"
	// AgentDead permanently excludes the agent from auctions. Agents are
	// soft-deleted by this transition, never removed.
	AgentDead AgentStatus = "DEAD"
)

// Agent is an autonomous participant in the arena economy.
type Agent struct {
	ID               string
	Name             string
	WalletAddress    string
	Balance          decimal.Decimal
	Reputation       float64
	Status           AgentStatus
	InvestorShareBps int64
	PolicyVersion    int64
	TasksCompleted   int64
	TasksFailed      int64
	TotalRevenue     decimal.Decimal
	TotalCosts       decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Eligible reports whether the agent may bid in an auction. DEAD agents
// never bid.
func (a Agent) Eligible() bool {
	return a.Status == AgentActive || a.Status == AgentLowFunds
}

// NextStatus derives the lifecycle status implied by a balance. The DEAD
// transition is absorbing: once dead, an agent stays dead regardless of
// balance.
func NextStatus(current AgentStatus, balance decimal.Decimal, lowFundsThreshold decimal.Decimal) AgentStatus {
	if current == AgentDead {
		return AgentDead
	}
	if balance.Sign() <= 0 {
		return AgentDead
	}
	if balance.LessThan(lowFundsThreshold) {
		return AgentLowFunds
	}
	return AgentActive
}
