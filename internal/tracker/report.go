package tracker

import (
	"context"
	"fmt"

	"coinfolio-go/internal/engine"
	"coinfolio-go/internal/models"

	"go.uber.org/zap"
)

// WalletSummary rolls a wallet subtree up into one set of figures.
type WalletSummary struct {
	WalletID     uint                 `json:"wallet_id"`
	Deposits     float64              `json:"deposits"`
	InvestedOpen float64              `json:"invested_open"`
	PlRealized   float64              `json:"pl_realized"`
	PlUnrealized float64              `json:"pl_unrealized"`
	Cash         float64              `json:"cash"`
	Closed       engine.ClosedSummary `json:"closed"`
	Skipped      int                  `json:"skipped_transactions"`
}

// Positions replays the full ledger of the wallet subtree rooted at rootID.
// Every request rebuilds the ledger from scratch; there is no cached
// accounting state.
func (s *Service) Positions(ctx context.Context, rootID uint) (*engine.Result, error) {
	rows, err := s.scopedTransactions(rootID)
	if err != nil {
		return nil, err
	}
	res := engine.Replay(toEngine(rows), s.stable)
	if n := len(res.Diagnostics); n > 0 {
		s.logger.Info("Replay skipped transactions",
			zap.Uint("wallet_id", rootID), zap.Int("skipped", n))
	}
	return res, nil
}

// Summary replays the subtree and marks open positions against live prices.
// Tickers with no quote contribute zero unrealized P&L rather than failing
// the summary.
func (s *Service) Summary(ctx context.Context, rootID uint) (*WalletSummary, error) {
	res, err := s.Positions(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var tickers []string
	for _, p := range res.Positions {
		if !s.stable.Contains(p.Ticker) {
			tickers = append(tickers, p.Ticker)
		}
	}

	var unrealized float64
	if len(tickers) > 0 {
		prices, err := s.prices.GetPrices(ctx, tickers)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch live prices: %w", err)
		}
		for _, p := range res.Positions {
			if s.stable.Contains(p.Ticker) {
				continue
			}
			live, ok := prices[p.Ticker]
			if !ok {
				s.logger.Warn("No live price for open position",
					zap.String("ticker", p.Ticker))
				continue
			}
			unrealized += p.UnrealizedPl(live)
		}
	}

	return &WalletSummary{
		WalletID:     rootID,
		Deposits:     res.CashDepositsUSD,
		InvestedOpen: res.InvestedOpenTotal,
		PlRealized:   res.PlRealizedTotal,
		PlUnrealized: unrealized,
		Cash:         res.CashDepositsUSD + res.PlRealizedTotal - res.InvestedOpenTotal,
		Closed:       engine.SummarizeClosed(res.Closed),
		Skipped:      len(res.Diagnostics),
	}, nil
}

// scopedTransactions loads the ledger for the subtree in replay order.
func (s *Service) scopedTransactions(rootID uint) ([]models.Transaction, error) {
	scope, err := s.walletScope(rootID)
	if err != nil {
		return nil, err
	}
	var rows []models.Transaction
	if err := s.db.Where("wallet_id IN ?", scope).
		Order("date asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return rows, nil
}

// toEngine converts stored rows into the engine's I/O-free transaction type.
func toEngine(rows []models.Transaction) []engine.Transaction {
	out := make([]engine.Transaction, 0, len(rows))
	for _, row := range rows {
		wallet := uint(0)
		if row.WalletID != nil {
			wallet = *row.WalletID
		}
		out = append(out, engine.Transaction{
			ID:            row.ID,
			Date:          row.Date,
			Action:        row.Action,
			Ticker:        row.Ticker,
			Quantity:      row.Quantity,
			Price:         row.Price,
			PriceCurrency: row.PriceCurrency,
			Fees:          row.Fees,
			FeesCurrency:  row.FeesCurrency,
			WalletID:      wallet,
			FromTicker:    row.FromTicker,
			ToTicker:      row.ToTicker,
			Direction:     row.Direction,
			Leverage:      row.Leverage,
		})
	}
	return out
}
