package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"coinfolio-go/internal/csvio"
	"coinfolio-go/internal/engine"
	"coinfolio-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when a transaction with the same identifying
// fields already exists in the store.
var ErrDuplicate = errors.New("duplicate transaction")

// PriceSource is the live-price lookup the service uses for unrealized P&L.
type PriceSource interface {
	GetPrices(ctx context.Context, tickers []string) (map[string]float64, error)
}

// Service orchestrates the accounting core: it resolves wallet scopes, loads
// ordered transaction ledgers, replays them through the engine, and marks
// open positions to market.
type Service struct {
	db     *gorm.DB
	prices PriceSource
	stable engine.StableSet
	logger *zap.Logger
}

// NewService creates a new tracker service.
func NewService(db *gorm.DB, prices PriceSource, stable engine.StableSet, logger *zap.Logger) *Service {
	return &Service{db: db, prices: prices, stable: stable, logger: logger}
}

// CreateWallet adds a wallet node, optionally under a parent.
func (s *Service) CreateWallet(name string, parentID *uint) (*models.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("wallet name must not be empty")
	}
	if parentID != nil {
		var parent models.Wallet
		if err := s.db.First(&parent, *parentID).Error; err != nil {
			return nil, fmt.Errorf("parent wallet %d not found: %w", *parentID, err)
		}
	}
	wallet := models.Wallet{Name: name, ParentID: parentID}
	if err := s.db.Create(&wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &wallet, nil
}

// ListWallets returns every wallet node.
func (s *Service) ListWallets() ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := s.db.Order("id").Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// DeleteWallet removes a leaf wallet. Wallets with children are refused so a
// subtree is never orphaned by accident.
func (s *Service) DeleteWallet(id uint) error {
	var children int64
	if err := s.db.Model(&models.Wallet{}).Where("parent_id = ?", id).Count(&children).Error; err != nil {
		return fmt.Errorf("failed to check wallet children: %w", err)
	}
	if children > 0 {
		return fmt.Errorf("wallet %d still has %d child wallets", id, children)
	}
	return s.db.Delete(&models.Wallet{}, id).Error
}

// walletScope returns the root wallet's ID plus all descendant IDs, gathered
// by repeated parent-set expansion.
func (s *Service) walletScope(rootID uint) ([]uint, error) {
	var root models.Wallet
	if err := s.db.First(&root, rootID).Error; err != nil {
		return nil, fmt.Errorf("wallet %d not found: %w", rootID, err)
	}

	scope := []uint{rootID}
	frontier := []uint{rootID}
	for len(frontier) > 0 {
		var children []models.Wallet
		if err := s.db.Where("parent_id IN ?", frontier).Find(&children).Error; err != nil {
			return nil, fmt.Errorf("failed to expand wallet scope: %w", err)
		}
		frontier = frontier[:0]
		for _, child := range children {
			scope = append(scope, child.ID)
			frontier = append(frontier, child.ID)
		}
	}
	return scope, nil
}

// AddTransaction stores one ledger row, rejecting exact duplicates.
func (s *Service) AddTransaction(tx *models.Transaction) error {
	tx.FieldHash = fieldHash(tx)
	var existing int64
	if err := s.db.Model(&models.Transaction{}).Where("field_hash = ?", tx.FieldHash).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing > 0 {
		return ErrDuplicate
	}
	if err := s.db.Create(tx).Error; err != nil {
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the ledger for one wallet (or all rows when
// walletID is nil), in replay order.
func (s *Service) ListTransactions(walletID *uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := s.db.Order("date asc, id asc")
	if walletID != nil {
		q = q.Where("wallet_id = ?", *walletID)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// DeleteTransaction removes one ledger row.
func (s *Service) DeleteTransaction(id uint) error {
	return s.db.Delete(&models.Transaction{}, id).Error
}

// ImportSummary reports the outcome of a CSV import.
type ImportSummary struct {
	BatchID   string   `json:"batch_id"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	RowErrors []string `json:"row_errors,omitempty"`
}

// ImportCSV parses r and stores its rows. Rows without a wallet column fall
// back to walletID. Duplicates (same field hash) are skipped and counted so
// re-importing an exchange export is harmless.
func (s *Service) ImportCSV(walletID *uint, r io.Reader) (*ImportSummary, error) {
	rows, rowErrs, err := csvio.Read(r)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{BatchID: uuid.NewString()}
	for _, e := range rowErrs {
		summary.RowErrors = append(summary.RowErrors, e.Error())
	}

	for i := range rows {
		tx := rows[i]
		if tx.WalletID == nil {
			tx.WalletID = walletID
		}
		tx.ImportBatch = summary.BatchID
		if err := s.AddTransaction(&tx); err != nil {
			if errors.Is(err, ErrDuplicate) {
				summary.Skipped++
				continue
			}
			return nil, err
		}
		summary.Imported++
	}

	s.logger.Info("CSV import finished",
		zap.String("batch_id", summary.BatchID),
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
		zap.Int("row_errors", len(summary.RowErrors)),
	)
	return summary, nil
}

// ExportCSV writes the wallet's ledger (or the whole ledger) to w.
func (s *Service) ExportCSV(w io.Writer, walletID *uint) error {
	txs, err := s.ListTransactions(walletID)
	if err != nil {
		return err
	}
	return csvio.Write(w, txs)
}

// fieldHash digests the identifying fields of a transaction. Two rows with
// the same hash describe the same real-world event.
func fieldHash(tx *models.Transaction) string {
	wallet := ""
	if tx.WalletID != nil {
		wallet = strconv.FormatUint(uint64(*tx.WalletID), 10)
	}
	parts := []string{
		tx.Date.UTC().Format(time.RFC3339Nano),
		strings.ToUpper(tx.Action),
		strings.ToUpper(tx.Ticker),
		strconv.FormatFloat(tx.Quantity, 'g', -1, 64),
		strconv.FormatFloat(tx.Price, 'g', -1, 64),
		strings.ToUpper(tx.PriceCurrency),
		strconv.FormatFloat(tx.Fees, 'g', -1, 64),
		strings.ToUpper(tx.FeesCurrency),
		wallet,
		strings.ToUpper(tx.FromTicker),
		strings.ToUpper(tx.ToTicker),
		strings.ToUpper(tx.Direction),
		strconv.FormatFloat(tx.Leverage, 'g', -1, 64),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
