package engine

// feeToUSD converts a fee amount in an arbitrary currency to its USD value.
// Stable/fiat currencies convert 1:1. Anything else is valued at the average
// cost of that currency's tracked lots; a fee paid in a currency with no
// tracked lot contributes nothing to USD totals. That is a documented
// approximation, not an error: the engine has no price source of its own.
func (r *replay) feeToUSD(fees float64, currency string) float64 {
	if fees <= 0 {
		return 0
	}
	if r.stable.Contains(currency) {
		return fees
	}
	return fees * r.ledger.avgCost(currency)
}
