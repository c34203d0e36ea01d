package domain

import "github.com/shopspring/decimal"

// SelectWinner clears one job's auction. The winning bid is the lowest
// amount that does not exceed maxBid; ties break by higher agent reputation,
// then by earliest submission (lowest sequence). Selection is fully
// deterministic; random tie-breaking is never used.
//
// Returns false when no bid qualifies.
func SelectWinner(bids []Bid, reputations map[string]float64, maxBid decimal.Decimal) (Bid, bool) {
	var (
		winner Bid
		found  bool
	)
	for _, bid := range bids {
		if bid.Status != BidPending {
			continue
		}
		if bid.Amount.GreaterThan(maxBid) {
			continue
		}
		if !found {
			winner = bid
			found = true
			continue
		}
		if beats(bid, winner, reputations) {
			winner = bid
		}
	}
	return winner, found
}

// beats reports whether candidate outranks incumbent under the clearing
// order: amount, reputation, submission sequence.
func beats(candidate, incumbent Bid, reputations map[string]float64) bool {
	switch candidate.Amount.Cmp(incumbent.Amount) {
	case -1:
		return true
	case 1:
		return false
	}
	candidateRep := reputations[candidate.AgentID]
	incumbentRep := reputations[incumbent.AgentID]
	if candidateRep != incumbentRep {
		return candidateRep > incumbentRep
	}
	// Equal amount and reputation: earliest submission wins.
	return candidate.Sequence < incumbent.Sequence
}
