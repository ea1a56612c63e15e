package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction is one immutable row of the ledger. Date is the ordering key
// for replay; FieldHash is a digest of the identifying fields used to detect
// duplicate rows on import.
type Transaction struct {
	gorm.Model
	Date          time.Time `gorm:"index" json:"date"`
	Action        string    `json:"action"` // BUY, SELL, DEPOSIT, WITHDRAWAL, SWAP, AIRDROP, FEE (OPEN/CLOSE aliases accepted)
	Ticker        string    `json:"ticker"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	PriceCurrency string    `json:"price_currency"`
	Fees          float64   `json:"fees"`
	FeesCurrency  string    `json:"fees_currency"`
	WalletID      *uint     `gorm:"index" json:"wallet_id,omitempty"`
	FromTicker    string    `json:"from_ticker,omitempty"` // SWAP only
	ToTicker      string    `json:"to_ticker,omitempty"`   // SWAP only
	Direction     string    `json:"direction"`             // LONG (default) or SHORT
	Leverage      float64   `json:"leverage,omitempty"`    // 0 = unset, else >= 1
	FieldHash     string    `gorm:"uniqueIndex" json:"-"`
	ImportBatch   string    `json:"import_batch,omitempty"`
}
