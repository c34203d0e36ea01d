package domain

import "github.com/shopspring/decimal"

// MoneyScale is the fixed fractional precision for settlement currency.
// All splits round to this scale so repeated settlement never drifts.
const MoneyScale = 6

// Split is the result of dividing one settled bid between the platform,
// the agent's investors, and the agent itself.
//
// Invariant: AgentShare + InvestorShareTotal + PlatformCut == BidAmount.
type Split struct {
	BidAmount          decimal.Decimal
	PlatformCut        decimal.Decimal
	InvestorShareTotal decimal.Decimal
	AgentShare         decimal.Decimal
}

// ComputeSplit divides a settled bid amount. The platform cut is taken on
// the full bid, the investor pool on the remaining net at investorShareBps
// basis points, and the agent keeps the remainder. The agent share is
// derived by subtraction so the conservation invariant holds exactly.
func ComputeSplit(bidAmount decimal.Decimal, platformFeeRate decimal.Decimal, investorShareBps int64) Split {
	platformCut := bidAmount.Mul(platformFeeRate).Round(MoneyScale)
	net := bidAmount.Sub(platformCut)
	investorTotal := net.Mul(decimal.NewFromInt(investorShareBps)).
		Div(decimal.NewFromInt(10000)).
		Round(MoneyScale)
	agentShare := net.Sub(investorTotal)
	return Split{
		BidAmount:          bidAmount,
		PlatformCut:        platformCut,
		InvestorShareTotal: investorTotal,
		AgentShare:         agentShare,
	}
}

// Holding is one investor's stake in an agent, expressed as share units.
type Holding struct {
	InvestorAddress string
	Units           int64
}

// Payout is one investor's slice of a distributed investor pool.
type Payout struct {
	InvestorAddress string
	Amount          decimal.Decimal
}

// DistributeProRata splits total across holdings proportionally to units.
// Each slice floors at MoneyScale; the remainder goes to the largest holder
// (first on equal units) so the payouts sum to total exactly. Holdings with
// zero or negative units receive nothing.
func DistributeProRata(total decimal.Decimal, holdings []Holding) []Payout {
	var totalUnits int64
	largest := -1
	for i, h := range holdings {
		if h.Units <= 0 {
			continue
		}
		totalUnits += h.Units
		if largest == -1 || h.Units > holdings[largest].Units {
			largest = i
		}
	}
	if totalUnits == 0 || total.Sign() <= 0 {
		return nil
	}

	payouts := make([]Payout, 0, len(holdings))
	distributed := decimal.Zero
	idx := make(map[string]int, len(holdings))
	for _, h := range holdings {
		if h.Units <= 0 {
			continue
		}
		amount := total.Mul(decimal.NewFromInt(h.Units)).
			Div(decimal.NewFromInt(totalUnits)).
			RoundDown(MoneyScale)
		idx[h.InvestorAddress] = len(payouts)
		payouts = append(payouts, Payout{InvestorAddress: h.InvestorAddress, Amount: amount})
		distributed = distributed.Add(amount)
	}

	remainder := total.Sub(distributed)
	if remainder.Sign() > 0 {
		i := idx[holdings[largest].InvestorAddress]
		payouts[i].Amount = payouts[i].Amount.Add(remainder)
	}
	return payouts
}
