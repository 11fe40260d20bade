package memory

import (
	"context"
	"fmt"
	"sync"

	"backoffice/internal/sheets"
)

// Exporter keeps ledger rows in memory. Used when no spreadsheet is
// configured and in tests.
type Exporter struct {
	mu   sync.Mutex
	rows []sheets.LedgerRow
}

var _ sheets.LedgerExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

// AppendMatch stores the row and returns a synthetic row reference.
func (e *Exporter) AppendMatch(_ context.Context, row sheets.LedgerRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, row)
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

func (e *Exporter) Rows() []sheets.LedgerRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sheets.LedgerRow(nil), e.rows...)
}
