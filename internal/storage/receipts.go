package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backoffice/internal/core"
)

const receiptColumns = `id, tenant_id, vendor_guess, total, currency, document_date, confidence, matched, file_name, content_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s rowScanner) (core.Receipt, error) {
	var (
		rc             core.Receipt
		docDate, stamp string
	)
	err := s.Scan(&rc.ID, &rc.TenantID, &rc.VendorGuess, &rc.Total, &rc.Currency, &docDate,
		&rc.Confidence, &rc.Matched, &rc.FileName, &rc.ContentHash, &stamp)
	if err != nil {
		return core.Receipt{}, err
	}
	rc.DocumentDate = parseDate(docDate)
	rc.CreatedAt = parseStamp(stamp)
	return rc, nil
}

func (r *Repository) CreateReceipt(ctx context.Context, rc core.Receipt) error {
	if rc.ContentHash != "" {
		if _, err := r.FindReceiptByHash(ctx, rc.TenantID, rc.ContentHash); err == nil {
			return core.ErrDuplicate
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}
	_, err := r.exec(ctx, `INSERT INTO receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.TenantID, rc.VendorGuess, rc.Total, strings.ToUpper(rc.Currency), formatDate(rc.DocumentDate),
		rc.Confidence, rc.Matched, rc.FileName, rc.ContentHash, formatStamp(rc.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	slog.DebugContext(ctx, "Receipt saved",
		"id", rc.ID,
		"tenant_id", rc.TenantID,
		"vendor", rc.VendorGuess,
		"total", rc.Total.String())
	return nil
}

func (r *Repository) GetReceipt(ctx context.Context, tenantID, id string) (core.Receipt, error) {
	rc, err := scanReceipt(r.queryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if err != nil {
		return core.Receipt{}, notFound(err)
	}
	bySuggestion, err := r.suggestionsByReceipt(ctx, tenantID, id)
	if err != nil {
		return core.Receipt{}, err
	}
	rc.Suggestions = bySuggestion[rc.ID]
	return rc, nil
}

func (r *Repository) FindReceiptByHash(ctx context.Context, tenantID, hash string) (core.Receipt, error) {
	if hash == "" {
		return core.Receipt{}, core.ErrNotFound
	}
	rc, err := scanReceipt(r.queryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE tenant_id = ? AND content_hash = ?`, tenantID, hash))
	if err != nil {
		return core.Receipt{}, notFound(err)
	}
	return rc, nil
}

func (r *Repository) ListReceipts(ctx context.Context, tenantID string) ([]core.Receipt, error) {
	rows, err := r.query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE tenant_id = ? ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []core.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bySuggestion, err := r.suggestionsByReceipt(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Suggestions = bySuggestion[out[i].ID]
	}
	return out, nil
}

func (r *Repository) SetReceiptMatched(ctx context.Context, tenantID, id string, matched bool) error {
	res, err := r.exec(ctx, `UPDATE receipts SET matched = ? WHERE tenant_id = ? AND id = ?`, matched, tenantID, id)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

const suggestionJoin = `SELECT s.id, s.tenant_id, s.receipt_id, s.bank_transaction_id, s.score, s.status, s.created_at, s.updated_at,
       t.id, t.merchant, t.amount, t.currency, t.posted_date, t.cleared, t.source, t.created_at
FROM match_suggestions s
JOIN bank_transactions t ON t.id = s.bank_transaction_id
WHERE s.tenant_id = ?`

// suggestionsByReceipt loads ranked suggestions with their transaction.
// An empty receiptID loads every receipt of the tenant.
func (r *Repository) suggestionsByReceipt(ctx context.Context, tenantID, receiptID string) (map[string][]core.MatchSuggestion, error) {
	q := suggestionJoin
	args := []any{tenantID}
	if receiptID != "" {
		q += ` AND s.receipt_id = ?`
		args = append(args, receiptID)
	}
	q += ` ORDER BY s.receipt_id, s.score DESC, s.id`

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	out := map[string][]core.MatchSuggestion{}
	for rows.Next() {
		var (
			sg                       core.MatchSuggestion
			tx                       core.BankTransaction
			status, created, updated string
			posted, txCreated        string
		)
		err := rows.Scan(&sg.ID, &sg.TenantID, &sg.ReceiptID, &sg.BankTransactionID, &sg.Score, &status, &created, &updated,
			&tx.ID, &tx.Merchant, &tx.Amount, &tx.Currency, &posted, &tx.Cleared, &tx.Source, &txCreated)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Status = core.SuggestionStatus(status)
		sg.CreatedAt = parseStamp(created)
		sg.UpdatedAt = parseStamp(updated)
		tx.TenantID = sg.TenantID
		tx.PostedDate = parseDate(posted)
		tx.CreatedAt = parseStamp(txCreated)
		sg.Transaction = &tx
		out[sg.ReceiptID] = append(out[sg.ReceiptID], sg)
	}
	return out, rows.Err()
}

func (r *Repository) GetSuggestion(ctx context.Context, tenantID, id string) (core.MatchSuggestion, error) {
	var (
		sg                       core.MatchSuggestion
		status, created, updated string
	)
	err := r.queryRow(ctx, `SELECT id, tenant_id, receipt_id, bank_transaction_id, score, status, created_at, updated_at
FROM match_suggestions WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&sg.ID, &sg.TenantID, &sg.ReceiptID, &sg.BankTransactionID, &sg.Score, &status, &created, &updated)
	if err != nil {
		return core.MatchSuggestion{}, notFound(err)
	}
	sg.Status = core.SuggestionStatus(status)
	sg.CreatedAt = parseStamp(created)
	sg.UpdatedAt = parseStamp(updated)
	return sg, nil
}

func (r *Repository) TransitionSuggestion(ctx context.Context, tenantID, id string, from, to core.SuggestionStatus, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE match_suggestions SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(to), formatStamp(at), tenantID, id, string(from))
	if err != nil {
		return fmt.Errorf("update suggestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetSuggestion(ctx, tenantID, id); err != nil {
		return err
	}
	return core.ErrInvalidTransition
}

func (r *Repository) ReplacePendingSuggestions(ctx context.Context, tenantID, receiptID string, next []core.MatchSuggestion) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.rebind(`DELETE FROM match_suggestions WHERE tenant_id = ? AND receipt_id = ? AND status = ?`),
		tenantID, receiptID, string(core.StatusSuggested)); err != nil {
		return fmt.Errorf("delete pending suggestions: %w", err)
	}
	ins := r.rebind(`INSERT INTO match_suggestions (id, tenant_id, receipt_id, bank_transaction_id, score, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, sg := range next {
		if _, err = tx.ExecContext(ctx, ins, sg.ID, tenantID, receiptID, sg.BankTransactionID, sg.Score,
			string(sg.Status), formatStamp(sg.CreatedAt), formatStamp(sg.UpdatedAt)); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) LinkedReceiptID(ctx context.Context, tenantID, txID string) (string, error) {
	var receiptID string
	err := r.queryRow(ctx, `SELECT receipt_id FROM match_suggestions
WHERE tenant_id = ? AND bank_transaction_id = ? AND status IN (?, ?)
ORDER BY updated_at LIMIT 1`, tenantID, txID, string(core.StatusConfirmed), string(core.StatusAutoLinked)).Scan(&receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup linked receipt: %w", err)
	}
	return receiptID, nil
}

func (r *Repository) DropPendingForTransaction(ctx context.Context, tenantID, txID, keepReceiptID string) (int, error) {
	res, err := r.exec(ctx, `DELETE FROM match_suggestions
WHERE tenant_id = ? AND bank_transaction_id = ? AND receipt_id <> ? AND status = ?`,
		tenantID, txID, keepReceiptID, string(core.StatusSuggested))
	if err != nil {
		return 0, fmt.Errorf("drop pending suggestions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
