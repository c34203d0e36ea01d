// Package economy applies the financial consequences of completed jobs:
// operating costs, the platform/investor/agent revenue split, escrow
// accrual, and investor claims.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/payment"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/platform/id"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// ErrNothingToClaim indicates an escrow claim with no available balance.
var ErrNothingToClaim = errors.New("nothing to claim")

// Config tunes settlement. Zero values fall back to the defaults below.
type Config struct {
	// OperatingCost is the fixed per-job cost debited from each winner.
	// Defaults to 0.5.
	OperatingCost decimal.Decimal
	// PlatformFeeRate is the platform cut taken on the full bid amount.
	// Defaults to 0.05.
	PlatformFeeRate decimal.Decimal
	// LowFundsThreshold is the balance below which an agent turns
	// LOW_FUNDS. Defaults to 1.0.
	LowFundsThreshold decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.OperatingCost.Sign() <= 0 {
		c.OperatingCost = decimal.NewFromFloat(0.5)
	}
	if c.PlatformFeeRate.Sign() <= 0 {
		c.PlatformFeeRate = decimal.NewFromFloat(0.05)
	}
	if c.LowFundsThreshold.Sign() <= 0 {
		c.LowFundsThreshold = decimal.NewFromInt(1)
	}
	return c
}

// Options modifies one settlement.
type Options struct {
	// UseBlockchain attempts gateway settlement and, when the gateway
	// reports the payment settled, applies the full revenue split. When
	// false (or when the rail is degraded) the profit is applied directly
	// to the agent balance and investor distribution is skipped.
	UseBlockchain bool
}

// Result reports one settlement for auditing. Path distinguishes the
// full split ("split") from the degraded direct credit ("direct").
type Result struct {
	Cost    decimal.Decimal
	Profit  decimal.Decimal
	Settled bool
	Path    string
	TxHash  string
	Split   domain.Split
	Payouts []domain.Payout
	Agent   domain.Agent
}

// ClaimResult reports one escrow claim.
type ClaimResult struct {
	Claim     domain.EscrowClaim
	Available decimal.Decimal
}

// Store is the persistence slice the economy needs.
type Store interface {
	storage.AgentStore
	storage.EscrowStore
}

// Service applies settlement and escrow operations.
type Service struct {
	store   Store
	gateway payment.Gateway
	cfg     Config
	now     func() time.Time
}

// New creates an economy service.
func New(store Store, gateway payment.Gateway, cfg Config) *Service {
	return &Service{store: store, gateway: gateway, cfg: cfg.withDefaults(), now: time.Now}
}

// ProcessTaskCompletion settles one completed job for its winning agent.
//
// The settled path takes the platform cut on the full bid, accrues the
// investor pool into escrow pro-rata by holdings, and credits the agent
// the remainder; the three parts always sum to the bid exactly. The
// degraded path credits the full profit directly and is flagged in the
// result so callers can audit skipped distributions.
func (s *Service) ProcessTaskCompletion(ctx context.Context, job domain.Job, winningBid domain.Bid, agent domain.Agent, opts Options) (Result, error) {
	if job.ID == "" || winningBid.ID == "" || agent.ID == "" {
		return Result{}, fmt.Errorf("job, bid, and agent are required")
	}

	result := Result{
		Cost:   s.cfg.OperatingCost,
		Profit: winningBid.Amount.Sub(s.cfg.OperatingCost),
		Path:   "direct",
	}

	if opts.UseBlockchain && s.gateway != nil {
		receipt, err := s.gateway.Settle(ctx, agent.WalletAddress, winningBid.Amount,
			fmt.Sprintf("job %s round %d", job.ID, job.Round))
		if err != nil {
			// Unreachable rail degrades to direct accounting rather than
			// failing the job.
			log.Printf("payment settle degraded agent=%s job=%s err=%v", agent.ID, job.ID, err)
		} else if receipt.Settled {
			result.Settled = true
			result.Path = "split"
			result.TxHash = receipt.TxHash
		}
	}

	if result.Settled {
		result.Split = domain.ComputeSplit(winningBid.Amount, s.cfg.PlatformFeeRate, agent.InvestorShareBps)
		payouts, err := s.accrueInvestorEscrow(ctx, agent.ID, result.Split.InvestorShareTotal)
		if err != nil {
			return Result{}, err
		}
		result.Payouts = payouts
		agent.Balance = agent.Balance.Add(result.Split.AgentShare).Sub(s.cfg.OperatingCost)
	} else {
		agent.Balance = agent.Balance.Add(result.Profit)
	}

	agent.TasksCompleted++
	agent.TotalRevenue = agent.TotalRevenue.Add(winningBid.Amount)
	agent.TotalCosts = agent.TotalCosts.Add(s.cfg.OperatingCost)
	agent.Reputation = clampReputation(agent.Reputation + 0.05)
	agent.Status = domain.NextStatus(agent.Status, agent.Balance, s.cfg.LowFundsThreshold)
	agent.UpdatedAt = s.now().UTC()

	if err := s.store.PutAgent(ctx, agent); err != nil {
		return Result{}, fmt.Errorf("persist settled agent: %w", err)
	}

	if agent.Status == domain.AgentLowFunds {
		s.topUpGas(agent)
	}

	result.Agent = agent
	return result, nil
}

// RecordTaskFailure charges the operating cost for a failed execution and
// updates the agent's counters and lifecycle status.
func (s *Service) RecordTaskFailure(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	if agent.ID == "" {
		return domain.Agent{}, fmt.Errorf("agent is required")
	}

	agent.Balance = agent.Balance.Sub(s.cfg.OperatingCost)
	agent.TasksFailed++
	agent.TotalCosts = agent.TotalCosts.Add(s.cfg.OperatingCost)
	agent.Reputation = clampReputation(agent.Reputation - 0.1)
	agent.Status = domain.NextStatus(agent.Status, agent.Balance, s.cfg.LowFundsThreshold)
	agent.UpdatedAt = s.now().UTC()

	if err := s.store.PutAgent(ctx, agent); err != nil {
		return domain.Agent{}, fmt.Errorf("persist failed agent: %w", err)
	}
	return agent, nil
}

// accrueInvestorEscrow distributes the investor pool across the agent's
// current holders and credits each holder's escrow.
func (s *Service) accrueInvestorEscrow(ctx context.Context, agentID string, pool decimal.Decimal) ([]domain.Payout, error) {
	if pool.Sign() <= 0 {
		return nil, nil
	}

	holdings, err := s.store.ListHoldings(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	payouts := domain.DistributeProRata(pool, holdings)
	for _, payout := range payouts {
		if err := s.store.CreditEscrow(ctx, agentID, payout.InvestorAddress, payout.Amount); err != nil {
			return nil, fmt.Errorf("credit escrow %s/%s: %w", agentID, payout.InvestorAddress, err)
		}
	}
	return payouts, nil
}

// ClaimEscrow pays out an investor's available balance. The external
// payment happens before the bookkeeping update; if bookkeeping fails
// after a successful payment the claim is recorded as a reconciliation
// item and the payment is never reversed.
func (s *Service) ClaimEscrow(ctx context.Context, agentID, investorAddress string) (ClaimResult, error) {
	agentID = strings.TrimSpace(agentID)
	investorAddress = strings.TrimSpace(investorAddress)
	if agentID == "" || investorAddress == "" {
		return ClaimResult{}, fmt.Errorf("agent id and investor address are required")
	}
	if s.gateway == nil {
		return ClaimResult{}, fmt.Errorf("payment gateway is not configured")
	}

	escrow, err := s.store.GetEscrow(ctx, agentID, investorAddress)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ClaimResult{}, ErrNothingToClaim
		}
		return ClaimResult{}, fmt.Errorf("read escrow: %w", err)
	}

	available := escrow.AvailableToClaim()
	if available.Sign() <= 0 {
		return ClaimResult{}, ErrNothingToClaim
	}

	receipt, err := s.gateway.Settle(ctx, investorAddress, available,
		fmt.Sprintf("escrow claim agent %s", agentID))
	if err != nil {
		return ClaimResult{}, fmt.Errorf("settle escrow claim: %w", err)
	}
	if !receipt.Settled {
		return ClaimResult{}, fmt.Errorf("escrow claim payment not settled (status %d)", receipt.Status)
	}

	claimID, err := id.NewID()
	if err != nil {
		return ClaimResult{}, fmt.Errorf("generate claim id: %w", err)
	}
	claim := domain.EscrowClaim{
		ID:              claimID,
		AgentID:         agentID,
		InvestorAddress: investorAddress,
		Amount:          available,
		TxHash:          receipt.TxHash,
		Status:          domain.ClaimPaid,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.store.AddClaimed(ctx, agentID, investorAddress, available); err != nil {
		// Payment already happened. Flag for operators, keep the record.
		claim.Status = domain.ClaimReconcile
		log.Printf("escrow claim needs reconciliation agent=%s investor=%s amount=%s tx=%s err=%v",
			agentID, investorAddress, available, receipt.TxHash, err)
	}
	if err := s.store.AppendClaim(ctx, claim); err != nil {
		log.Printf("escrow claim record write failed agent=%s investor=%s tx=%s err=%v",
			agentID, investorAddress, receipt.TxHash, err)
	}

	return ClaimResult{Claim: claim, Available: available}, nil
}

// clampReputation keeps reputation on the 0..5 scale.
func clampReputation(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// topUpGas fires a detached best-effort gas top-up for a low-funds
// agent. Failures are logged, never joined into the settlement result.
func (s *Service) topUpGas(agent domain.Agent) {
	if s.gateway == nil || agent.WalletAddress == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.SideEffect)
		defer cancel()
		if err := s.gateway.TopUpGas(ctx, agent.WalletAddress); err != nil {
			log.Printf("gas top-up failed agent=%s err=%v", agent.ID, err)
		}
	}()
}
