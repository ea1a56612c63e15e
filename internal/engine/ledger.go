package engine

import "time"

// lotKey identifies one cost-basis line.
type lotKey struct {
	wallet    uint
	ticker    string
	direction Direction
}

// Lot is the mutable cost-basis aggregate for one (wallet, ticker, direction)
// line. CostNotional accumulates the dollar cost before margin adjustment;
// CostMargin divides leveraged notionals by the leverage and is the
// denominator for percentage P&L.
type Lot struct {
	Qty           float64
	CostNotional  float64
	CostMargin    float64
	FirstOpenDate time.Time
	Leverage      float64

	// ShortOpenAction fixes which action type opens this short lot: BUY
	// (alternative convention) or SELL (classic). It is inferred from the
	// first action seen on an empty lot and cleared when the lot returns to
	// zero, so the convention can be re-inferred for the next cycle.
	ShortOpenAction Action
}

// open adds quantity and cost to the lot, stamping the first-open date and
// the latest explicit leverage.
func (l *Lot) open(qty, costNotional, costMargin float64, date time.Time, leverage float64) {
	l.Qty += qty
	l.CostNotional += costNotional
	l.CostMargin += costMargin
	if l.FirstOpenDate.IsZero() {
		l.FirstOpenDate = date
	}
	if leverage > 1 {
		l.Leverage = leverage
	}
}

// reset returns the lot to the neutral zero state.
func (l *Lot) reset() {
	*l = Lot{}
}

func (l *Lot) avgNotional() float64 {
	if l.Qty <= Epsilon {
		return 0
	}
	return l.CostNotional / l.Qty
}

func (l *Lot) avgMargin() float64 {
	if l.Qty <= Epsilon {
		return 0
	}
	return l.CostMargin / l.Qty
}

// ledger is the keyed store of lots, created on first access.
type ledger struct {
	lots map[lotKey]*Lot
}

func newLedger() *ledger {
	return &ledger{lots: make(map[lotKey]*Lot)}
}

// get returns the lot for the key, creating a zero-valued one on miss.
func (lg *ledger) get(wallet uint, ticker string, direction Direction) *Lot {
	k := lotKey{wallet: wallet, ticker: ticker, direction: direction}
	lot, ok := lg.lots[k]
	if !ok {
		lot = &Lot{}
		lg.lots[k] = lot
	}
	return lot
}

// avgCost returns the average notional cost per unit across every lot held
// in ticker, summing LONG and SHORT lines over all wallets. Used to value
// fees paid in a non-stable currency.
func (lg *ledger) avgCost(ticker string) float64 {
	var qty, cost float64
	for k, lot := range lg.lots {
		if k.ticker == ticker {
			qty += lot.Qty
			cost += lot.CostNotional
		}
	}
	if qty <= Epsilon {
		return 0
	}
	return cost / qty
}
