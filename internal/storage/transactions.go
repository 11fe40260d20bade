package storage

import (
	"context"
	"fmt"
	"strings"

	"backoffice/internal/core"
)

func (r *Repository) CreateTransaction(ctx context.Context, t core.BankTransaction) (bool, error) {
	res, err := r.exec(ctx, `INSERT INTO bank_transactions
(id, tenant_id, merchant, merchant_key, amount, currency, posted_date, cleared, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, posted_date, amount, merchant_key, source) DO NOTHING`,
		t.ID, t.TenantID, t.Merchant, strings.ToLower(strings.TrimSpace(t.Merchant)), t.Amount.StringFixed(2),
		strings.ToUpper(t.Currency), formatDate(t.PostedDate), t.Cleared, strings.ToLower(strings.TrimSpace(t.Source)),
		formatStamp(t.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) ListTransactions(ctx context.Context, tenantID string) ([]core.BankTransaction, error) {
	rows, err := r.query(ctx, `SELECT id, tenant_id, merchant, amount, currency, posted_date, cleared, source, created_at
FROM bank_transactions WHERE tenant_id = ? ORDER BY posted_date, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.BankTransaction
	for rows.Next() {
		var (
			t             core.BankTransaction
			posted, stamp string
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Merchant, &t.Amount, &t.Currency, &posted, &t.Cleared, &t.Source, &stamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.PostedDate = parseDate(posted)
		t.CreatedAt = parseStamp(stamp)
		out = append(out, t)
	}
	return out, rows.Err()
}
