package engine

import (
	"math"
	"sort"
)

// replay is the single-use state of one ledger replay: the lot ledger, the
// closed rows emitted so far, and per-line realized P&L. A fresh replay is
// built per invocation, so repeated calls on the same input always produce
// identical output.
type replay struct {
	stable   StableSet
	ledger   *ledger
	closed   []ClosedPosition
	realized map[lotKey]float64
	cash     float64
	diags    []Diagnostic
}

// Replay processes the transaction list in ascending date order (stable for
// equal timestamps) in one pass and derives open positions, closed-position
// rows and aggregate totals. Dirty ledger data never fails the replay:
// unprocessable transactions are skipped and surfaced as diagnostics so the
// caller can report why a row did not affect the position.
func Replay(txs []Transaction, stable StableSet) *Result {
	r := &replay{
		stable:   stable,
		ledger:   newLedger(),
		realized: make(map[lotKey]float64),
	}

	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	for _, raw := range ordered {
		r.process(normalize(raw))
	}
	return r.result()
}

func (r *replay) skip(tx Transaction, code, reason string) {
	r.diags = append(r.diags, Diagnostic{TxID: tx.ID, Code: code, Reason: reason})
}

func (r *replay) process(tx Transaction) {
	switch Action(tx.Action) {
	case ActionDeposit:
		r.processDeposit(tx)
	case ActionWithdrawal:
		r.processWithdrawal(tx)
	case ActionAirdrop:
		r.processAirdrop(tx)
	case ActionBuy, ActionSell:
		if Direction(tx.Direction) == Short {
			r.processShortTrade(tx)
		} else {
			r.processLongTrade(tx)
		}
	case ActionSwap:
		r.processSwap(tx)
	case ActionFee:
		// Standalone fee rows carry no position effect.
	default:
		r.skip(tx, DiagUnknownAction, "unrecognized action "+tx.Action)
	}
}

// processDeposit opens a LONG lot for the deposited asset. Stable deposits
// carry a 1:1 cost and count toward cash; anything else arrives from outside
// the ledger and is tracked at zero cost basis, like an airdrop, so a later
// disposal has quantity to close against.
func (r *replay) processDeposit(tx Transaction) {
	lot := r.ledger.get(tx.WalletID, tx.Ticker, Long)
	if r.stable.Contains(tx.Ticker) {
		lot.open(tx.Quantity, tx.Quantity, tx.Quantity, tx.Date, 0)
		r.cash += tx.Quantity
		return
	}
	lot.open(tx.Quantity, 0, 0, tx.Date, 0)
}

// processWithdrawal never touches cost basis; stable withdrawals reduce the
// cash deposit total used by downstream wallet summaries.
func (r *replay) processWithdrawal(tx Transaction) {
	if r.stable.Contains(tx.Ticker) {
		r.cash -= tx.Quantity
	}
}

// processAirdrop opens a LONG lot at zero cost: free tokens have no basis.
func (r *replay) processAirdrop(tx Transaction) {
	lot := r.ledger.get(tx.WalletID, tx.Ticker, Long)
	lot.open(tx.Quantity, 0, 0, tx.Date, 0)
}

// processLongTrade handles spot BUY/SELL. Trades priced in a currency
// outside the stable allowlist cannot be cost-basis-priced and are skipped.
func (r *replay) processLongTrade(tx Transaction) {
	if !r.stable.Contains(tx.PriceCurrency) {
		r.skip(tx, DiagUnpricedTrade, "pricing currency "+tx.PriceCurrency+" not in stable allowlist")
		return
	}
	feeUSD := r.feeToUSD(tx.Fees, tx.FeesCurrency)
	key := lotKey{wallet: tx.WalletID, ticker: tx.Ticker, direction: Long}
	lot := r.ledger.get(tx.WalletID, tx.Ticker, Long)

	if Action(tx.Action) == ActionBuy {
		notional := tx.Quantity * tx.Price
		margin := notional
		if tx.Leverage > 1 {
			margin = notional / tx.Leverage
		}
		lot.open(tx.Quantity, notional+feeUSD, margin+feeUSD, tx.Date, tx.Leverage)
		return
	}

	// SELL: close up to the available quantity. A LONG sell never creates a
	// short; excess quantity is dropped.
	if lot.Qty <= Epsilon {
		r.skip(tx, DiagOverSell, "sell of "+tx.Ticker+" with no open quantity")
		return
	}
	qtyClose := math.Min(tx.Quantity, lot.Qty)
	if tx.Quantity > lot.Qty+Epsilon {
		r.skip(tx, DiagOverSell, "sell of "+tx.Ticker+" clamped to open quantity")
	}
	proceeds := qtyClose*tx.Price - feeUSD
	r.close(tx, key, qtyClose, proceeds, feeUSD)
}

// processShortTrade handles BUY/SELL on a SHORT lot. Which action opens the
// short is ambiguous across data sources, so the first action seen on an
// empty lot fixes the convention for that lot: SELL-opens (classic) or
// BUY-opens (alternative). The opposite action then closes it. The
// convention is never reinterpreted until the lot returns to zero.
func (r *replay) processShortTrade(tx Transaction) {
	if !r.stable.Contains(tx.PriceCurrency) {
		r.skip(tx, DiagUnpricedTrade, "pricing currency "+tx.PriceCurrency+" not in stable allowlist")
		return
	}
	feeUSD := r.feeToUSD(tx.Fees, tx.FeesCurrency)
	key := lotKey{wallet: tx.WalletID, ticker: tx.Ticker, direction: Short}
	lot := r.ledger.get(tx.WalletID, tx.Ticker, Short)
	act := Action(tx.Action)

	if lot.ShortOpenAction == "" || lot.ShortOpenAction == act {
		lot.ShortOpenAction = act
		notional := tx.Quantity * tx.Price
		margin := notional
		if tx.Leverage > 1 {
			margin = notional / tx.Leverage
		}
		if act == ActionSell {
			// Classic short sale: the proceeds are the basis, fee deducted.
			lot.open(tx.Quantity, notional-feeUSD, margin-feeUSD, tx.Date, tx.Leverage)
		} else {
			lot.open(tx.Quantity, notional+feeUSD, margin+feeUSD, tx.Date, tx.Leverage)
		}
		return
	}

	if lot.Qty <= Epsilon {
		r.skip(tx, DiagOverSell, "short close of "+tx.Ticker+" with no open quantity")
		return
	}
	qtyClose := math.Min(tx.Quantity, lot.Qty)
	if tx.Quantity > lot.Qty+Epsilon {
		r.skip(tx, DiagOverSell, "short close of "+tx.Ticker+" clamped to open quantity")
	}
	// The close notional is the buy-back cost; the fee always works against
	// the position.
	closeNotional := qtyClose*tx.Price + feeUSD
	r.close(tx, key, qtyClose, closeNotional, feeUSD)
}

// processSwap dispatches on which legs are stable: stable->crypto opens the
// target lot, crypto->stable closes the source lot realizing P&L, and
// crypto->crypto rotates the cost basis without realizing anything.
func (r *replay) processSwap(tx Transaction) {
	if tx.FromTicker == "" || tx.ToTicker == "" {
		r.skip(tx, DiagMalformedSwap, "swap is missing from/to tickers")
		return
	}
	feeUSD := r.feeToUSD(tx.Fees, tx.FeesCurrency)
	fromStable := r.stable.Contains(tx.FromTicker)
	toStable := r.stable.Contains(tx.ToTicker)

	switch {
	case fromStable && toStable:
		// Cash to cash, nothing to account for.
	case fromStable:
		// Quantity is the amount received, price the stable paid per unit.
		lot := r.ledger.get(tx.WalletID, tx.ToTicker, Long)
		notional := tx.Quantity * tx.Price
		margin := notional
		if tx.Leverage > 1 {
			margin = notional / tx.Leverage
		}
		lot.open(tx.Quantity, notional+feeUSD, margin+feeUSD, tx.Date, tx.Leverage)
	case toStable:
		// Quantity is the amount disposed, price the stable received per
		// unit; the stable amount received is the close notional.
		key := lotKey{wallet: tx.WalletID, ticker: tx.FromTicker, direction: Long}
		lot := r.ledger.get(tx.WalletID, tx.FromTicker, Long)
		if lot.Qty <= Epsilon {
			r.skip(tx, DiagOverSell, "swap out of "+tx.FromTicker+" with no open quantity")
			return
		}
		qtyClose := math.Min(tx.Quantity, lot.Qty)
		proceeds := qtyClose*tx.Price - feeUSD
		r.close(tx, key, qtyClose, proceeds, feeUSD)
	default:
		r.rotate(tx, feeUSD)
	}
}

// rotate moves cost basis from one crypto lot to another without realizing
// P&L: the source lot is decremented at its own average cost and that cost,
// plus fees, becomes the basis of the target lot. No closed row is emitted.
// Quantity is the amount received; price is the source units spent per unit
// received.
func (r *replay) rotate(tx Transaction, feeUSD float64) {
	from := r.ledger.get(tx.WalletID, tx.FromTicker, Long)
	fromQty := tx.Quantity * tx.Price

	var transferNotional, transferMargin float64
	if from.Qty > Epsilon {
		qtyOut := math.Min(fromQty, from.Qty)
		transferNotional = qtyOut * from.avgNotional()
		transferMargin = qtyOut * from.avgMargin()
		from.Qty -= qtyOut
		from.CostNotional -= transferNotional
		from.CostMargin -= transferMargin
		if from.Qty <= Epsilon {
			from.reset()
		}
	} else {
		r.skip(tx, DiagUntrackedBasis, "swap out of untracked "+tx.FromTicker+" carries zero basis")
	}

	to := r.ledger.get(tx.WalletID, tx.ToTicker, Long)
	to.open(tx.Quantity, transferNotional+feeUSD, transferMargin+feeUSD, tx.Date, tx.Leverage)
}

// close realizes P&L on qtyClose units of the keyed lot and emits a
// ClosedPosition row. closeNotional is the USD value of the closing trade:
// net sale proceeds for a LONG, buy-back cost for a SHORT.
func (r *replay) close(tx Transaction, key lotKey, qtyClose, closeNotional, feeUSD float64) {
	if qtyClose <= Epsilon {
		return
	}
	lot := r.ledger.get(key.wallet, key.ticker, key.direction)
	avgNotional := lot.avgNotional()
	avgMargin := lot.avgMargin()

	var proceeds, closeCost float64
	if key.direction == Short {
		proceeds = qtyClose * avgNotional
		closeCost = closeNotional
	} else {
		proceeds = closeNotional
		closeCost = qtyClose * avgNotional
	}
	pl := proceeds - closeCost

	marginBasis := qtyClose * avgMargin
	plPct := 0.0
	if marginBasis != 0 {
		plPct = pl / marginBasis * 100
	}

	lot.Qty -= qtyClose
	lot.CostNotional -= qtyClose * avgNotional
	lot.CostMargin -= marginBasis

	status := StatusPartial
	if lot.Qty <= Epsilon {
		status = StatusClosed
	}

	holdingDays := 0
	if !lot.FirstOpenDate.IsZero() {
		holdingDays = int(math.Round(tx.Date.Sub(lot.FirstOpenDate).Hours() / 24))
	}
	exitPrice := 0.0
	if qtyClose > 0 {
		exitPrice = closeNotional / qtyClose
	}

	r.closed = append(r.closed, ClosedPosition{
		Ticker:       key.ticker,
		WalletID:     key.wallet,
		Direction:    key.direction,
		QtySold:      qtyClose,
		EntryPrice:   avgNotional,
		ExitPrice:    exitPrice,
		InvestedCost: marginBasis,
		Proceeds:     proceeds,
		FeesSell:     feeUSD,
		PlUSD:        pl,
		PlPct:        plPct,
		DateOpen:     lot.FirstOpenDate,
		DateClose:    tx.Date,
		HoldingDays:  holdingDays,
		QtyRemaining: lot.Qty,
		Status:       status,
	})
	r.realized[key] += pl

	if status == StatusClosed {
		lot.reset()
	}
}

// result snapshots the remaining lot state into open positions and folds up
// the aggregate totals. Output ordering is deterministic.
func (r *replay) result() *Result {
	res := &Result{
		Closed:          r.closed,
		CashDepositsUSD: r.cash,
		Diagnostics:     r.diags,
	}

	keys := make([]lotKey, 0, len(r.ledger.lots))
	for k := range r.ledger.lots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ticker != b.ticker {
			return a.ticker < b.ticker
		}
		if a.wallet != b.wallet {
			return a.wallet < b.wallet
		}
		return a.direction < b.direction
	})

	for _, k := range keys {
		lot := r.ledger.lots[k]
		if lot.Qty <= Epsilon {
			continue
		}
		res.Positions = append(res.Positions, OpenPosition{
			Ticker:        k.ticker,
			WalletID:      k.wallet,
			Direction:     k.direction,
			QtyOpen:       lot.Qty,
			InvestedOpen:  lot.CostNotional,
			AvgCost:       lot.avgNotional(),
			Leverage:      lot.Leverage,
			PlRealized:    r.realized[k],
			FirstOpenDate: lot.FirstOpenDate,
		})
		if !r.stable.Contains(k.ticker) {
			res.InvestedOpenTotal += lot.CostNotional
		}
	}
	for _, c := range r.closed {
		res.PlRealizedTotal += c.PlUSD
	}
	return res
}
