package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStable = NewStableSet("USDT", "USDC", "USD", "EUR")

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func deposit(d time.Time, ticker string, qty float64) Transaction {
	return Transaction{Date: d, Action: "DEPOSIT", Ticker: ticker, Quantity: qty}
}

func trade(d time.Time, action, ticker string, qty, price float64) Transaction {
	return Transaction{
		Date: d, Action: action, Ticker: ticker,
		Quantity: qty, Price: price, PriceCurrency: "USDT",
	}
}

func shortTrade(d time.Time, action, ticker string, qty, price float64) Transaction {
	tx := trade(d, action, ticker, qty, price)
	tx.Direction = "SHORT"
	return tx
}

func findPosition(t *testing.T, res *Result, ticker string) OpenPosition {
	t.Helper()
	for _, p := range res.Positions {
		if p.Ticker == ticker {
			return p
		}
	}
	t.Fatalf("no open position for %s", ticker)
	return OpenPosition{}
}

func TestReplay_RoundTrip(t *testing.T) {
	txs := []Transaction{
		deposit(day(0), "USDT", 1000),
		trade(day(1), "BUY", "BTC", 1, 50000),
		trade(day(2), "SELL", "BTC", 1, 60000),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.Equal(t, "BTC", row.Ticker)
	assert.InDelta(t, 10000.0, row.PlUSD, 1e-9)
	assert.InDelta(t, 50000.0, row.EntryPrice, 1e-9)
	assert.InDelta(t, 60000.0, row.ExitPrice, 1e-9)
	assert.InDelta(t, 20.0, row.PlPct, 1e-9)
	assert.Equal(t, StatusClosed, row.Status)
	assert.LessOrEqual(t, row.QtyRemaining, Epsilon)
	assert.Equal(t, 1, row.HoldingDays)

	// Only the USDT residual remains open; the BTC lot is fully closed.
	require.Len(t, res.Positions, 1)
	assert.Equal(t, "USDT", res.Positions[0].Ticker)
	assert.InDelta(t, 1000.0, res.Positions[0].QtyOpen, 1e-9)
	assert.InDelta(t, 0.0, res.InvestedOpenTotal, 1e-9)
	assert.InDelta(t, 10000.0, res.PlRealizedTotal, 1e-9)
	assert.InDelta(t, 1000.0, res.CashDepositsUSD, 1e-9)
	assert.Empty(t, res.Diagnostics)
}

func TestReplay_AirdropHasZeroCostBasis(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "AIRDROP", Ticker: "XYZ", Quantity: 10},
		trade(day(1), "SELL", "XYZ", 10, 5),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.InDelta(t, 50.0, row.PlUSD, 1e-9)
	assert.InDelta(t, 0.0, row.EntryPrice, 1e-9)
	assert.Equal(t, StatusClosed, row.Status)
	// Zero margin basis means no percentage can be derived.
	assert.InDelta(t, 0.0, row.PlPct, 1e-9)
	assert.Empty(t, res.Positions)
}

func TestReplay_PartialSell(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "ETH", 4, 2000),
		trade(day(1), "SELL", "ETH", 1, 2500),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.Equal(t, StatusPartial, row.Status)
	assert.InDelta(t, 500.0, row.PlUSD, 1e-9)
	assert.InDelta(t, 3.0, row.QtyRemaining, 1e-9)

	pos := findPosition(t, res, "ETH")
	assert.InDelta(t, 3.0, pos.QtyOpen, 1e-9)
	assert.InDelta(t, 6000.0, pos.InvestedOpen, 1e-9)
	assert.InDelta(t, 2000.0, pos.AvgCost, 1e-9)
	assert.InDelta(t, 500.0, pos.PlRealized, 1e-9)
}

func TestReplay_OverSellClampsAndNeverGoesNegative(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "BTC", 1, 50000),
		trade(day(1), "SELL", "BTC", 2, 60000),
		trade(day(2), "SELL", "BTC", 1, 60000),
	}

	res := Replay(txs, testStable)

	// The first sell is clamped to the held quantity, the second finds an
	// empty lot; both are surfaced as diagnostics.
	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 1.0, res.Closed[0].QtySold, 1e-9)
	assert.InDelta(t, 10000.0, res.Closed[0].PlUSD, 1e-9)
	assert.Len(t, res.Diagnostics, 2)
	for _, d := range res.Diagnostics {
		assert.Equal(t, DiagOverSell, d.Code)
	}
	for _, p := range res.Positions {
		assert.GreaterOrEqual(t, p.QtyOpen, 0.0)
	}
}

func TestReplay_NonStablePricedTradeIsSkipped(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "BUY", Ticker: "ETH", Quantity: 1, Price: 0.05, PriceCurrency: "BTC"},
	}

	res := Replay(txs, testStable)

	assert.Empty(t, res.Positions)
	assert.Empty(t, res.Closed)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, DiagUnpricedTrade, res.Diagnostics[0].Code)
}

func TestReplay_LeverageAdjustsMarginBasis(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "BUY", Ticker: "BTC", Quantity: 1, Price: 50000,
			PriceCurrency: "USDT", Leverage: 10},
		trade(day(5), "SELL", "BTC", 1, 55000),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.InDelta(t, 5000.0, row.PlUSD, 1e-9)
	// Margin basis is notional/leverage, so the percentage is amplified.
	assert.InDelta(t, 5000.0, row.InvestedCost, 1e-9)
	assert.InDelta(t, 100.0, row.PlPct, 1e-9)
}

func TestReplay_FeeInTrackedCurrencyValuedAtAverageCost(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "BNB", 10, 30),
		{Date: day(1), Action: "BUY", Ticker: "BTC", Quantity: 1, Price: 100,
			PriceCurrency: "USDT", Fees: 1, FeesCurrency: "BNB"},
	}

	res := Replay(txs, testStable)

	pos := findPosition(t, res, "BTC")
	// 1 BNB fee valued at the 30 USDT average cost of the BNB lot.
	assert.InDelta(t, 130.0, pos.InvestedOpen, 1e-9)
}

func TestReplay_FeeInUntrackedCurrencyContributesZero(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "BUY", Ticker: "BTC", Quantity: 1, Price: 100,
			PriceCurrency: "USDT", Fees: 5, FeesCurrency: "BNB"},
	}

	res := Replay(txs, testStable)

	pos := findPosition(t, res, "BTC")
	assert.InDelta(t, 100.0, pos.InvestedOpen, 1e-9)
	assert.False(t, pos.InvestedOpen != pos.InvestedOpen, "no NaN may propagate")
	assert.Empty(t, res.Closed)
}

func TestReplay_SwapStableToCrypto(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "SWAP", FromTicker: "USDT", ToTicker: "SOL",
			Quantity: 10, Price: 100, Fees: 2, FeesCurrency: "USDT"},
	}

	res := Replay(txs, testStable)

	pos := findPosition(t, res, "SOL")
	assert.InDelta(t, 10.0, pos.QtyOpen, 1e-9)
	assert.InDelta(t, 1002.0, pos.InvestedOpen, 1e-9)
	assert.Empty(t, res.Closed)
}

func TestReplay_SwapCryptoToStableRealizesPl(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "ETH", 2, 2000),
		{Date: day(3), Action: "SWAP", FromTicker: "ETH", ToTicker: "USDT",
			Quantity: 2, Price: 2500},
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.Equal(t, "ETH", row.Ticker)
	assert.InDelta(t, 1000.0, row.PlUSD, 1e-9)
	assert.Equal(t, StatusClosed, row.Status)
}

func TestReplay_SwapCryptoToCryptoRotatesBasis(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "ETH", 1, 2000),
		{Date: day(1), Action: "SWAP", FromTicker: "ETH", ToTicker: "SOL",
			Quantity: 10, Price: 0.1},
	}

	res := Replay(txs, testStable)

	// A rotation realizes nothing and transfers the full basis.
	assert.Empty(t, res.Closed)
	pos := findPosition(t, res, "SOL")
	assert.InDelta(t, 10.0, pos.QtyOpen, 1e-9)
	assert.InDelta(t, 2000.0, pos.InvestedOpen, 1e-9)

	for _, p := range res.Positions {
		assert.NotEqual(t, "ETH", p.Ticker, "source lot should be empty")
	}
}

func TestReplay_MalformedSwapIsSurfaced(t *testing.T) {
	txs := []Transaction{
		{ID: 7, Date: day(0), Action: "SWAP", FromTicker: "ETH", Quantity: 10},
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, DiagMalformedSwap, res.Diagnostics[0].Code)
	assert.Equal(t, uint(7), res.Diagnostics[0].TxID)
}

func TestReplay_ShortClassicConvention(t *testing.T) {
	txs := []Transaction{
		shortTrade(day(0), "SELL", "BTC", 1, 50000),
		shortTrade(day(5), "BUY", "BTC", 1, 40000),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	row := res.Closed[0]
	assert.Equal(t, Short, row.Direction)
	assert.InDelta(t, 10000.0, row.PlUSD, 1e-9)
	assert.Equal(t, StatusClosed, row.Status)
	assert.Empty(t, res.Positions)
}

func TestReplay_ShortAlternativeConventionLocksIn(t *testing.T) {
	// A BUY on an empty short lot fixes the BUY-opens convention: a second
	// BUY must add to the position, not close it.
	txs := []Transaction{
		shortTrade(day(0), "BUY", "BTC", 1, 50000),
		shortTrade(day(1), "BUY", "BTC", 1, 50000),
	}

	res := Replay(txs, testStable)

	assert.Empty(t, res.Closed)
	pos := findPosition(t, res, "BTC")
	assert.InDelta(t, 2.0, pos.QtyOpen, 1e-9)

	// The opposite action closes it; a short profits when the price falls.
	txs = append(txs, shortTrade(day(2), "SELL", "BTC", 2, 40000))
	res = Replay(txs, testStable)
	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 20000.0, res.Closed[0].PlUSD, 1e-9)
	assert.Empty(t, res.Positions)
}

func TestReplay_ShortConventionResetsWhenLotEmpties(t *testing.T) {
	txs := []Transaction{
		shortTrade(day(0), "SELL", "BTC", 1, 50000),
		shortTrade(day(1), "BUY", "BTC", 1, 40000),
		// The lot emptied, so a fresh BUY re-infers the alternative
		// convention instead of being read as another close.
		shortTrade(day(2), "BUY", "BTC", 1, 42000),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	pos := findPosition(t, res, "BTC")
	assert.Equal(t, Short, pos.Direction)
	assert.InDelta(t, 1.0, pos.QtyOpen, 1e-9)
	assert.InDelta(t, 42000.0, pos.InvestedOpen, 1e-9)
}

func TestReplay_NonStableDepositTrackedAtZeroBasis(t *testing.T) {
	txs := []Transaction{
		deposit(day(0), "ETH", 2),
		trade(day(1), "SELL", "ETH", 2, 1000),
	}

	res := Replay(txs, testStable)

	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 2000.0, res.Closed[0].PlUSD, 1e-9)
	// A non-stable deposit contributes nothing to cash.
	assert.InDelta(t, 0.0, res.CashDepositsUSD, 1e-9)
}

func TestReplay_WithdrawalOnlyAffectsCash(t *testing.T) {
	txs := []Transaction{
		deposit(day(0), "USDT", 1000),
		trade(day(1), "BUY", "BTC", 1, 100),
		{Date: day(2), Action: "WITHDRAWAL", Ticker: "USDT", Quantity: 300},
		{Date: day(3), Action: "WITHDRAWAL", Ticker: "BTC", Quantity: 1},
	}

	res := Replay(txs, testStable)

	assert.InDelta(t, 700.0, res.CashDepositsUSD, 1e-9)
	// Withdrawals never reduce cost basis.
	pos := findPosition(t, res, "BTC")
	assert.InDelta(t, 1.0, pos.QtyOpen, 1e-9)
	assert.InDelta(t, 100.0, pos.InvestedOpen, 1e-9)
}

func TestReplay_OpenCloseAliases(t *testing.T) {
	txs := []Transaction{
		{Date: day(0), Action: "open", Ticker: "BTC", Quantity: 1, Price: 50000,
			PriceCurrency: "USDT", Direction: "SHORT"},
		{Date: day(1), Action: "CLOSE", Ticker: "BTC", Quantity: 1, Price: 45000,
			PriceCurrency: "USDT", Direction: "SHORT"},
	}

	res := Replay(txs, testStable)

	// OPEN maps to SELL and CLOSE to BUY for a short, i.e. the classic
	// convention end to end.
	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 5000.0, res.Closed[0].PlUSD, 1e-9)
	assert.Empty(t, res.Positions)
}

func TestReplay_Idempotence(t *testing.T) {
	txs := []Transaction{
		deposit(day(0), "USDT", 5000),
		trade(day(1), "BUY", "BTC", 1, 30000),
		trade(day(2), "BUY", "ETH", 5, 2000),
		trade(day(3), "SELL", "BTC", 0.5, 40000),
		shortTrade(day(4), "SELL", "SOL", 100, 50),
		{Date: day(5), Action: "SWAP", FromTicker: "ETH", ToTicker: "AVAX",
			Quantity: 50, Price: 0.1},
	}

	first := Replay(txs, testStable)
	second := Replay(txs, testStable)
	assert.Equal(t, first, second)

	// Pre-sorting the input must not change anything either.
	reversed := make([]Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		reversed = append(reversed, txs[i])
	}
	third := Replay(reversed, testStable)
	assert.Equal(t, first, third)
}

func TestReplay_SameTimestampTiesKeepTotalsInvariant(t *testing.T) {
	a := trade(day(1), "SELL", "BTC", 1, 35000)
	b := trade(day(1), "SELL", "BTC", 1, 36000)
	base := []Transaction{trade(day(0), "BUY", "BTC", 2, 30000)}

	res1 := Replay(append(append([]Transaction{}, base...), a, b), testStable)
	res2 := Replay(append(append([]Transaction{}, base...), b, a), testStable)

	assert.InDelta(t, res1.PlRealizedTotal, res2.PlRealizedTotal, 1e-9)
	assert.InDelta(t, res1.InvestedOpenTotal, res2.InvestedOpenTotal, 1e-9)
	assert.Equal(t, len(res1.Closed), len(res2.Closed))
}

func TestReplay_EpsilonResidueTreatedAsClosed(t *testing.T) {
	txs := []Transaction{
		trade(day(0), "BUY", "BTC", 0.3, 10000),
		trade(day(1), "SELL", "BTC", 0.1, 10000),
		trade(day(2), "SELL", "BTC", 0.1, 10000),
		trade(day(3), "SELL", "BTC", 0.1, 10000),
	}

	res := Replay(txs, testStable)

	// Repeated subtraction leaves float residue; the final row must still
	// report CLOSED and no phantom position may survive.
	require.Len(t, res.Closed, 3)
	assert.Equal(t, StatusClosed, res.Closed[2].Status)
	assert.Empty(t, res.Positions)
}

func TestReplay_NonFiniteNumericsCoerceToZero(t *testing.T) {
	nan := 0.0
	nan = nan / nan // quiet NaN without importing math in the test
	txs := []Transaction{
		{Date: day(0), Action: "BUY", Ticker: "BTC", Quantity: 1, Price: 100,
			PriceCurrency: "USDT", Fees: nan, FeesCurrency: "USDT"},
	}

	res := Replay(txs, testStable)

	pos := findPosition(t, res, "BTC")
	assert.InDelta(t, 100.0, pos.InvestedOpen, 1e-9)
}
