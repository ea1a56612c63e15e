package engine

import (
	"strings"
	"time"
)

// Action identifies the kind of ledger entry after normalization.
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionDeposit    Action = "DEPOSIT"
	ActionWithdrawal Action = "WITHDRAWAL"
	ActionSwap       Action = "SWAP"
	ActionAirdrop    Action = "AIRDROP"
	ActionFee        Action = "FEE"

	// OPEN and CLOSE are accepted as aliases and rewritten to BUY/SELL
	// depending on the trade direction.
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Epsilon is the quantity below which a lot is treated as exactly closed.
// It guards against floating-point residue from repeated subtraction.
const Epsilon = 1e-9

// Transaction is one immutable ledger row, already fetched and scoped by the
// caller. The engine does no I/O; WalletID 0 means the row is not assigned to
// a wallet.
type Transaction struct {
	ID            uint
	Date          time.Time
	Action        string
	Ticker        string
	Quantity      float64
	Price         float64
	PriceCurrency string
	Fees          float64
	FeesCurrency  string
	WalletID      uint
	FromTicker    string
	ToTicker      string
	Direction     string
	Leverage      float64
}

// Status of a closed-position row.
type Status string

const (
	StatusClosed  Status = "CLOSED"
	StatusPartial Status = "PARTIAL"
)

// ClosedPosition records one partial or full closing trade.
type ClosedPosition struct {
	Ticker       string    `json:"ticker"`
	WalletID     uint      `json:"wallet_id"`
	Direction    Direction `json:"direction"`
	QtySold      float64   `json:"qty_sold"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	InvestedCost float64   `json:"invested_cost"`
	Proceeds     float64   `json:"proceeds"`
	FeesSell     float64   `json:"fees_sell"`
	PlUSD        float64   `json:"pl_usd"`
	PlPct        float64   `json:"pl_pct"`
	DateOpen     time.Time `json:"date_open"`
	DateClose    time.Time `json:"date_close"`
	HoldingDays  int       `json:"holding_days"`
	QtyRemaining float64   `json:"qty_remaining"`
	Status       Status    `json:"status"`
}

// OpenPosition is the state of one lot line after the full replay. Direction
// and InvestedOpen are exposed so that callers holding a live price map can
// compute unrealized P&L.
type OpenPosition struct {
	Ticker        string    `json:"ticker"`
	WalletID      uint      `json:"wallet_id"`
	Direction     Direction `json:"direction"`
	QtyOpen       float64   `json:"qty_open"`
	InvestedOpen  float64   `json:"invested_open"`
	AvgCost       float64   `json:"avg_cost"`
	Leverage      float64   `json:"leverage,omitempty"`
	PlRealized    float64   `json:"pl_realized"`
	FirstOpenDate time.Time `json:"first_open_date"`
}

// Diagnostic reason codes for transactions the engine skipped or clamped.
const (
	DiagUnpricedTrade  = "UNPRICED_TRADE"
	DiagOverSell       = "OVER_SELL"
	DiagMalformedSwap  = "MALFORMED_SWAP"
	DiagUnknownAction  = "UNKNOWN_ACTION"
	DiagUntrackedBasis = "UNTRACKED_BASIS"
)

// Diagnostic describes why a transaction did not (fully) affect the ledger.
// Dirty ledger data is expected; the engine skips it instead of failing.
type Diagnostic struct {
	TxID   uint   `json:"tx_id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Result is the complete output of one ledger replay.
type Result struct {
	Positions []OpenPosition   `json:"positions"`
	Closed    []ClosedPosition `json:"closed"`

	// InvestedOpenTotal sums the notional cost of open non-stable lots.
	// Stable lots are cash-like and excluded so that downstream cash math
	// (deposits + realized P&L - invested) does not double count them.
	InvestedOpenTotal float64 `json:"invested_open_total"`
	PlRealizedTotal   float64 `json:"pl_realized_total"`

	// CashDepositsUSD is stable-denominated deposits net of withdrawals.
	CashDepositsUSD float64 `json:"cash_deposits_usd"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// StableSet is the configured set of tickers treated as 1:1 USD-equivalent
// for costing purposes. It is injected by the caller, never hardcoded here.
type StableSet map[string]struct{}

// NewStableSet builds a StableSet from ticker names, case-insensitively.
func NewStableSet(tickers ...string) StableSet {
	s := make(StableSet, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Contains reports whether ticker is a recognized stable/fiat unit.
func (s StableSet) Contains(ticker string) bool {
	_, ok := s[strings.ToUpper(strings.TrimSpace(ticker))]
	return ok
}
