// Package csvio reads and writes transaction ledgers as CSV. Import is
// header-driven and tolerant: unknown columns are ignored, headers are
// case-insensitive, and bad rows are collected instead of failing the file.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"coinfolio-go/internal/models"
)

var exportHeader = []string{
	"date", "action", "ticker", "quantity", "price", "price_currency",
	"fees", "fees_currency", "from_ticker", "to_ticker", "direction",
	"leverage", "wallet_id",
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 15:04",
}

// RowError describes one rejected input row.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Read parses a transaction CSV. It returns the parsed rows plus per-row
// errors; only an unreadable file or a missing header is a hard error.
func Read(r io.Reader) ([]models.Transaction, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["date"]; !ok {
		return nil, nil, fmt.Errorf("CSV header is missing the date column")
	}
	if _, ok := idx["action"]; !ok {
		return nil, nil, fmt.Errorf("CSV header is missing the action column")
	}

	var txs []models.Transaction
	var rowErrs []RowError
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}

		field := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		date, err := parseDate(field("date"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}

		tx := models.Transaction{
			Date:          date,
			Action:        strings.ToUpper(field("action")),
			Ticker:        strings.ToUpper(field("ticker")),
			Quantity:      parseNumber(field("quantity")),
			Price:         parseNumber(field("price")),
			PriceCurrency: strings.ToUpper(field("price_currency")),
			Fees:          parseNumber(field("fees")),
			FeesCurrency:  strings.ToUpper(field("fees_currency")),
			FromTicker:    strings.ToUpper(field("from_ticker")),
			ToTicker:      strings.ToUpper(field("to_ticker")),
			Direction:     strings.ToUpper(field("direction")),
			Leverage:      parseNumber(field("leverage")),
		}
		if raw := field("wallet_id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
				walletID := uint(id)
				tx.WalletID = &walletID
			}
		}
		txs = append(txs, tx)
	}
	return txs, rowErrs, nil
}

// Write renders the transactions with a fixed column order and RFC3339 dates.
func Write(w io.Writer, txs []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, tx := range txs {
		walletID := ""
		if tx.WalletID != nil {
			walletID = strconv.FormatUint(uint64(*tx.WalletID), 10)
		}
		record := []string{
			tx.Date.UTC().Format(time.RFC3339),
			tx.Action,
			tx.Ticker,
			formatNumber(tx.Quantity),
			formatNumber(tx.Price),
			tx.PriceCurrency,
			formatNumber(tx.Fees),
			tx.FeesCurrency,
			tx.FromTicker,
			tx.ToTicker,
			tx.Direction,
			formatNumber(tx.Leverage),
			walletID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", s)
}

// parseNumber is forgiving about thousands separators and blanks; anything
// unparseable becomes 0, matching the engine's numeric guards.
func parseNumber(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatNumber(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
