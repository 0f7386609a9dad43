package domain

// TriggerDecision is the outcome of the post-consumption replenishment check.
type TriggerDecision struct {
	ShouldReplenish bool  `json:"should_replenish"`
	AmountSuggested int64 `json:"amount_suggested"`
	LowBalance      bool  `json:"low_balance"`
}

// Check decides whether r needs topping up. It never performs the top-up.
func Check(r Retainer) TriggerDecision {
	decision := TriggerDecision{
		LowBalance: r.Status == StatusActive && r.CurrentBalance < r.MinimumBalance,
	}
	if r.Status != StatusActive || !r.AutoReplenish || r.ReplenishThreshold == nil || r.ReplenishAmount == nil {
		return decision
	}
	if r.CurrentBalance <= *r.ReplenishThreshold {
		decision.ShouldReplenish = true
		decision.AmountSuggested = *r.ReplenishAmount
	}
	return decision
}
