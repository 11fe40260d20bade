// Package ingest parses bank statements and receipt uploads into domain values.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

// DateLayouts are tried in order for statement and receipt dates.
var DateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/06",
	"1/2/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

var (
	ErrNoHeader       = errors.New("csv header not recognized")
	ErrMissingDate    = errors.New("date column not found")
	ErrMissingAmount  = errors.New("amount column not found")
	ErrMissingPayee   = errors.New("description column not found")
	ErrEmptyStatement = errors.New("statement is empty")
)

var (
	dateHeaders     = []string{"date", "posted", "posted date", "posting date", "transaction date", "trans date"}
	merchantHeaders = []string{"description", "merchant", "payee", "name", "details", "memo"}
	amountHeaders   = []string{"amount", "transaction amount"}
	debitHeaders    = []string{"debit", "withdrawal", "withdrawals", "money out"}
	creditHeaders   = []string{"credit", "deposit", "deposits", "money in"}
	currencyHeaders = []string{"currency", "ccy"}
	statusHeaders   = []string{"status", "cleared"}
)

// BankRow is one parsed statement line.
type BankRow struct {
	Line       int
	PostedDate time.Time
	Merchant   string
	Amount     decimal.Decimal
	Currency   string
	Cleared    bool
}

// RowError reports a skipped statement line.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Err) }

type columns struct {
	date, merchant, amount, debit, credit, currency, status int
}

func detectColumns(header []string) (columns, error) {
	c := columns{date: -1, merchant: -1, amount: -1, debit: -1, credit: -1, currency: -1, status: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case c.date < 0 && contains(dateHeaders, h):
			c.date = i
		case c.merchant < 0 && contains(merchantHeaders, h):
			c.merchant = i
		case c.amount < 0 && contains(amountHeaders, h):
			c.amount = i
		case c.debit < 0 && contains(debitHeaders, h):
			c.debit = i
		case c.credit < 0 && contains(creditHeaders, h):
			c.credit = i
		case c.currency < 0 && contains(currencyHeaders, h):
			c.currency = i
		case c.status < 0 && contains(statusHeaders, h):
			c.status = i
		}
	}
	if c.date < 0 {
		return c, ErrMissingDate
	}
	if c.merchant < 0 {
		return c, ErrMissingPayee
	}
	if c.amount < 0 && c.debit < 0 && c.credit < 0 {
		return c, ErrMissingAmount
	}
	return c, nil
}

// ParseBankCSV reads a headered bank statement. Bad rows are skipped and
// reported; only an unreadable header fails the whole statement.
func ParseBankCSV(r io.Reader, defaultCurrency string) ([]BankRow, []RowError, error) {
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	header, err := csvr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyStatement
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := detectColumns(header)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoHeader, err)
	}

	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	var (
		rows    []BankRow
		rowErrs []RowError
	)
	line := 1
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err.Error()})
			continue
		}
		if blank(rec) {
			continue
		}
		row, err := parseRow(rec, cols, defaultCurrency)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err.Error()})
			continue
		}
		row.Line = line
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func parseRow(rec []string, c columns, defaultCurrency string) (BankRow, error) {
	var row BankRow

	date, err := ParseDate(field(rec, c.date))
	if err != nil {
		return row, fmt.Errorf("date: %w", err)
	}
	row.PostedDate = date

	row.Merchant = strings.Join(strings.Fields(field(rec, c.merchant)), " ")
	if row.Merchant == "" {
		return row, errors.New("description is empty")
	}

	amount, err := rowAmount(rec, c)
	if err != nil {
		return row, err
	}
	row.Amount = amount

	row.Currency = strings.ToUpper(field(rec, c.currency))
	if row.Currency == "" {
		row.Currency = defaultCurrency
	}
	if len(row.Currency) != 3 {
		return row, fmt.Errorf("currency %q is not a 3-letter code", row.Currency)
	}

	switch strings.ToLower(field(rec, c.status)) {
	case "cleared", "reconciled", "c", "x", "true", "yes":
		row.Cleared = true
	}
	return row, nil
}

// rowAmount prefers a signed amount column. Debit columns are negated.
func rowAmount(rec []string, c columns) (decimal.Decimal, error) {
	if raw := field(rec, c.amount); raw != "" {
		d, err := core.ParseAmount(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("amount %q: %w", raw, err)
		}
		if d.IsZero() {
			return decimal.Zero, fmt.Errorf("amount is zero")
		}
		return d, nil
	}
	if raw := field(rec, c.debit); raw != "" {
		d, err := core.ParseAmount(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("debit %q: %w", raw, err)
		}
		if !d.IsZero() {
			return d.Abs().Neg(), nil
		}
	}
	if raw := field(rec, c.credit); raw != "" {
		d, err := core.ParseAmount(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("credit %q: %w", raw, err)
		}
		if !d.IsZero() {
			return d.Abs(), nil
		}
	}
	return decimal.Zero, errors.New("amount is missing")
}

// ParseDate tries every layout in DateLayouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
