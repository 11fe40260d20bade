package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"backoffice/internal/core"
	"backoffice/internal/events"
	"backoffice/internal/ingest"
	"backoffice/internal/log"
	"backoffice/internal/matching"
)

// IngestResult describes a stored receipt upload.
type IngestResult struct {
	Receipt   core.Receipt `json:"receipt"`
	Duplicate bool         `json:"duplicate"`
}

// StatementResult describes a bank statement import.
type StatementResult struct {
	Imported  int               `json:"imported"`
	Skipped   int               `json:"skipped"`
	Errors    []ingest.RowError `json:"errors"`
	Rematched RematchResult     `json:"rematched"`
}

// RematchResult counts the work done by a rematch pass.
type RematchResult struct {
	Receipts    int `json:"receipts"`
	Suggestions int `json:"suggestions"`
	AutoLinked  int `json:"autoLinked"`
}

// IngestReceipt stores an uploaded receipt and computes its suggestions.
// Uploading the same bytes twice returns the existing receipt.
func (s *Service) IngestReceipt(ctx context.Context, up ingest.ReceiptUpload) (IngestResult, error) {
	if existing, err := s.store.FindReceiptByHash(ctx, s.tenantID, up.ContentHash); err == nil {
		full, err := s.store.GetReceipt(ctx, s.tenantID, existing.ID)
		if err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Receipt: full, Duplicate: true}, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("lookup receipt hash: %w", err)
	}

	currency := up.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	r := core.Receipt{
		ID:           uuid.NewString(),
		TenantID:     s.tenantID,
		VendorGuess:  up.VendorGuess,
		Total:        up.Total,
		Currency:     strings.ToUpper(currency),
		DocumentDate: up.DocumentDate,
		Confidence:   up.Confidence,
		FileName:     up.FileName,
		ContentHash:  up.ContentHash,
		CreatedAt:    s.now().UTC(),
	}
	if err := r.Validate(); err != nil {
		return IngestResult{}, err
	}
	if err := s.store.CreateReceipt(ctx, r); err != nil {
		return IngestResult{}, fmt.Errorf("store receipt: %w", err)
	}

	if err := s.matchNewReceipt(ctx, r); err != nil {
		return IngestResult{}, err
	}

	stored, err := s.store.GetReceipt(ctx, s.tenantID, r.ID)
	if err != nil {
		return IngestResult{}, err
	}
	s.logger.InfoContext(ctx, "Receipt ingested",
		log.FieldReceiptID, stored.ID,
		log.FieldVendor, stored.VendorGuess,
		log.FieldAmount, stored.Total.String(),
		log.FieldCount, len(stored.Suggestions))
	s.publish(ctx, events.TypeReceiptIngested, map[string]any{
		"receiptId":   stored.ID,
		"vendor":      stored.VendorGuess,
		"total":       stored.Total,
		"currency":    stored.Currency,
		"suggestions": len(stored.Suggestions),
		"bucket":      core.Classify(stored),
	})
	return IngestResult{Receipt: stored}, nil
}

func (s *Service) matchNewReceipt(ctx context.Context, r core.Receipt) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	receipts, err := s.store.ListReceipts(ctx, s.tenantID)
	if err != nil {
		return fmt.Errorf("list receipts: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, s.tenantID)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	_, _, err = s.matchReceipt(ctx, r, txs, linkedTransactions(receipts))
	return err
}

// IngestBankStatement imports a CSV statement, skipping duplicate lines, then
// rematches unmatched receipts against the enlarged transaction set.
func (s *Service) IngestBankStatement(ctx context.Context, source string, r io.Reader) (StatementResult, error) {
	rows, rowErrs, err := ingest.ParseBankCSV(r, s.defaultCurrency)
	if err != nil {
		return StatementResult{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "upload"
	}

	res := StatementResult{Errors: rowErrs}
	if res.Errors == nil {
		res.Errors = []ingest.RowError{}
	}
	now := s.now().UTC()
	for _, row := range rows {
		tx := core.BankTransaction{
			ID:         uuid.NewString(),
			TenantID:   s.tenantID,
			Merchant:   row.Merchant,
			Amount:     row.Amount,
			Currency:   row.Currency,
			PostedDate: row.PostedDate,
			Cleared:    row.Cleared,
			Source:     source,
			CreatedAt:  now,
		}
		added, err := s.store.CreateTransaction(ctx, tx)
		if err != nil {
			res.Errors = append(res.Errors, ingest.RowError{Line: row.Line, Err: err.Error()})
			continue
		}
		if added {
			res.Imported++
		} else {
			res.Skipped++
		}
	}

	if res.Imported > 0 {
		rematched, err := s.Rematch(ctx)
		if err != nil {
			return res, err
		}
		res.Rematched = rematched
	}

	s.logger.InfoContext(ctx, "Bank statement imported",
		"source", source,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"row_errors", len(res.Errors))
	s.publish(ctx, events.TypeStatementImported, map[string]any{
		"source":   source,
		"imported": res.Imported,
		"skipped":  res.Skipped,
		"errors":   len(res.Errors),
	})
	return res, nil
}

// Rematch recomputes suggestions for every unmatched receipt. Confirmed and
// rejected suggestions are kept and a rejected pairing is never offered again.
func (s *Service) Rematch(ctx context.Context) (RematchResult, error) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	receipts, err := s.store.ListReceipts(ctx, s.tenantID)
	if err != nil {
		return RematchResult{}, fmt.Errorf("list receipts: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, s.tenantID)
	if err != nil {
		return RematchResult{}, fmt.Errorf("list transactions: %w", err)
	}

	linked := linkedTransactions(receipts)
	var res RematchResult
	for _, r := range receipts {
		if r.Matched {
			continue
		}
		if hasLink(r) {
			// Confirmed earlier but the matched flag was never written.
			if err := s.store.SetReceiptMatched(ctx, s.tenantID, r.ID, true); err != nil {
				return res, fmt.Errorf("mark receipt %s matched: %w", r.ID, err)
			}
			continue
		}
		n, autoLinked, err := s.matchReceipt(ctx, r, txs, linked)
		if err != nil {
			return res, err
		}
		res.Receipts++
		res.Suggestions += n
		if autoLinked {
			res.AutoLinked++
		}
	}
	s.logger.InfoContext(ctx, "Rematch finished",
		"receipts", res.Receipts,
		"suggestions", res.Suggestions,
		"auto_linked", res.AutoLinked)
	return res, nil
}

// matchReceipt replaces the receipt's pending suggestions. linked is updated
// in place when the best candidate is auto-linked.
func (s *Service) matchReceipt(ctx context.Context, r core.Receipt, txs []core.BankTransaction, linked map[string]bool) (int, bool, error) {
	opts := s.match
	opts.Linked = linked
	opts.Rejected = map[string]bool{}
	for _, sg := range r.Suggestions {
		if sg.Status == core.StatusRejected {
			opts.Rejected[sg.BankTransactionID] = true
		}
	}
	opts.Now = s.now

	next := keepPendingIDs(r, matching.Suggest(r, txs, opts))
	if err := s.store.ReplacePendingSuggestions(ctx, s.tenantID, r.ID, next); err != nil {
		return 0, false, fmt.Errorf("store suggestions for %s: %w", r.ID, err)
	}
	if !matching.HasAutoLink(next) {
		return len(next), false, nil
	}

	best := next[0]
	linked[best.BankTransactionID] = true
	if err := s.store.SetReceiptMatched(ctx, s.tenantID, r.ID, true); err != nil {
		return len(next), true, fmt.Errorf("mark receipt %s matched: %w", r.ID, err)
	}
	if _, err := s.store.DropPendingForTransaction(ctx, s.tenantID, best.BankTransactionID, r.ID); err != nil {
		return len(next), true, fmt.Errorf("release transaction %s: %w", best.BankTransactionID, err)
	}
	s.logger.InfoContext(ctx, "Receipt auto-linked",
		log.FieldReceiptID, r.ID,
		log.FieldTransactionID, best.BankTransactionID,
		log.FieldScore, best.Score)
	s.enqueueExport(ctx, best.ID)
	s.publish(ctx, events.TypeMatchAutoLinked, suggestionPayload(best))
	return len(next), true, nil
}

func linkedTransactions(receipts []core.Receipt) map[string]bool {
	linked := map[string]bool{}
	for _, r := range receipts {
		for _, sg := range r.Suggestions {
			if sg.Status == core.StatusConfirmed || sg.Status == core.StatusAutoLinked {
				linked[sg.BankTransactionID] = true
			}
		}
	}
	return linked
}

func hasLink(r core.Receipt) bool {
	for _, sg := range r.Suggestions {
		if sg.Status == core.StatusConfirmed || sg.Status == core.StatusAutoLinked {
			return true
		}
	}
	return false
}

// keepPendingIDs reuses the id of a pending suggestion whose pairing survives
// the recomputation, so ids handed to reviewers stay valid.
func keepPendingIDs(r core.Receipt, next []core.MatchSuggestion) []core.MatchSuggestion {
	prev := map[string]core.MatchSuggestion{}
	for _, sg := range r.Suggestions {
		if sg.Status == core.StatusSuggested {
			prev[sg.BankTransactionID] = sg
		}
	}
	for i := range next {
		if old, ok := prev[next[i].BankTransactionID]; ok {
			next[i].ID = old.ID
			if !old.CreatedAt.IsZero() {
				next[i].CreatedAt = old.CreatedAt
			}
		}
	}
	return next
}
