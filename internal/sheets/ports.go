package sheets

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRow is one confirmed receipt/transaction pairing as written to the
// bookkeeping spreadsheet.
type LedgerRow struct {
	ConfirmedAt   time.Time
	PostedDate    time.Time
	Vendor        string
	Merchant      string
	Amount        decimal.Decimal
	Currency      string
	Score         float64
	SuggestionID  string
	ReceiptID     string
	TransactionID string
}

func (r LedgerRow) Validate() error {
	if strings.TrimSpace(r.SuggestionID) == "" {
		return errors.New("ledger row: suggestion id is required")
	}
	if r.PostedDate.IsZero() {
		return errors.New("ledger row: posted date is required")
	}
	if r.Amount.IsZero() {
		return errors.New("ledger row: amount is required")
	}
	return nil
}

// Ports for outbound adapters.
type (
	LedgerExporter interface {
		AppendMatch(ctx context.Context, row LedgerRow) (rowRef string, err error)
	}
)
