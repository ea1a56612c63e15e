package engine

import (
	"math"
	"strings"
)

// normalizeAction resolves the semantic OPEN/CLOSE aliases to BUY/SELL given
// the trade direction and uppercases everything else. Unrecognized actions
// pass through; the processor then no-ops on them.
func normalizeAction(action string, direction Direction) Action {
	switch Action(strings.ToUpper(strings.TrimSpace(action))) {
	case ActionClose:
		if direction == Short {
			return ActionBuy
		}
		return ActionSell
	case ActionOpen:
		if direction == Short {
			return ActionSell
		}
		return ActionBuy
	default:
		return Action(strings.ToUpper(strings.TrimSpace(action)))
	}
}

// sanitize coerces non-finite or negative values to zero so that malformed
// numeric fields never propagate NaN through the running balances.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// normalize returns a canonical copy of tx: uppercased ticker and currency
// fields, defaulted direction, resolved action alias, and guarded numerics.
func normalize(tx Transaction) Transaction {
	dir := Long
	if strings.EqualFold(strings.TrimSpace(tx.Direction), string(Short)) {
		dir = Short
	}
	tx.Direction = string(dir)
	tx.Action = string(normalizeAction(tx.Action, dir))
	tx.Ticker = strings.ToUpper(strings.TrimSpace(tx.Ticker))
	tx.PriceCurrency = strings.ToUpper(strings.TrimSpace(tx.PriceCurrency))
	tx.FeesCurrency = strings.ToUpper(strings.TrimSpace(tx.FeesCurrency))
	tx.FromTicker = strings.ToUpper(strings.TrimSpace(tx.FromTicker))
	tx.ToTicker = strings.ToUpper(strings.TrimSpace(tx.ToTicker))
	tx.Quantity = sanitize(tx.Quantity)
	tx.Fees = sanitize(tx.Fees)
	tx.Price = sanitize(tx.Price)
	if tx.Leverage < 1 || math.IsNaN(tx.Leverage) || math.IsInf(tx.Leverage, 0) {
		tx.Leverage = 0
	}
	return tx
}
