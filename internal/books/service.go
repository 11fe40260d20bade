// Package books implements the receipt matching queue: listing, review
// transitions, bulk actions, ingestion and rematching.
package books

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/events"
	"backoffice/internal/log"
	"backoffice/internal/matching"
	"backoffice/internal/store"
)

const defaultBulkConcurrency = 8

// ExportQueue schedules a ledger export for a matched suggestion.
type ExportQueue interface {
	EnqueueExport(ctx context.Context, tenantID, suggestionID string) error
}

type Options struct {
	TenantID        string
	DefaultCurrency string
	Match           matching.Options
	BulkConcurrency int
	Exports         ExportQueue
	Events          events.Publisher
	Logger          *log.Logger
	Now             func() time.Time
}

// Service is the reconciliation queue for one tenant.
type Service struct {
	store           store.BooksStore
	tenantID        string
	defaultCurrency string
	match           matching.Options
	concurrency     int
	exports         ExportQueue
	events          events.Publisher
	logger          *log.Logger
	audit           *log.StructuredLogger
	now             func() time.Time

	// linkMu serializes the decisions that pair a bank transaction with a
	// receipt: confirms and (re)matching passes.
	linkMu sync.Mutex
}

func NewService(st store.BooksStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentBooks)
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = defaultBulkConcurrency
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	return &Service{
		store:           st,
		tenantID:        opts.TenantID,
		defaultCurrency: opts.DefaultCurrency,
		match:           opts.Match,
		concurrency:     opts.BulkConcurrency,
		exports:         opts.Exports,
		events:          opts.Events,
		logger:          opts.Logger,
		audit:           log.NewStructuredLogger(opts.Logger),
		now:             opts.Now,
	}
}

func (s *Service) TenantID() string { return s.tenantID }

func (s *Service) DefaultCurrency() string { return s.defaultCurrency }

// Confirm moves a suggestion from suggested to confirmed and marks its
// receipt matched. A bank transaction already linked to a receipt cannot be
// confirmed again. Export and event delivery are best-effort.
func (s *Service) Confirm(ctx context.Context, suggestionID string) (core.MatchSuggestion, error) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	sg, err := s.transition(ctx, suggestionID, core.StatusConfirmed, s.requireUnlinked)
	if err != nil {
		return core.MatchSuggestion{}, err
	}
	// The suggestion is already confirmed; a failed flag write is repaired by
	// the next rematch pass.
	if err := s.store.SetReceiptMatched(ctx, s.tenantID, sg.ReceiptID, true); err != nil {
		s.logger.WarnContext(ctx, "Failed to mark receipt matched",
			log.FieldReceiptID, sg.ReceiptID,
			log.FieldSuggestionID, sg.ID,
			log.FieldError, err)
	}
	s.releaseTransaction(ctx, sg)

	s.audit.LogMatchConfirmed(ctx, s.tenantID, sg.ID, sg.ReceiptID, sg.BankTransactionID, sg.Score)
	s.enqueueExport(ctx, sg.ID)
	s.publish(ctx, events.TypeMatchConfirmed, suggestionPayload(sg))
	return sg, nil
}

func (s *Service) requireUnlinked(ctx context.Context, sg core.MatchSuggestion) error {
	linked, err := s.store.LinkedReceiptID(ctx, s.tenantID, sg.BankTransactionID)
	if err != nil {
		return fmt.Errorf("bank transaction %s: %w", sg.BankTransactionID, err)
	}
	if linked != "" {
		return fmt.Errorf("bank transaction %s is already linked to receipt %s: %w",
			sg.BankTransactionID, linked, core.ErrInvalidTransition)
	}
	return nil
}

// releaseTransaction drops the pending suggestions other receipts hold on a
// transaction that was just linked.
func (s *Service) releaseTransaction(ctx context.Context, sg core.MatchSuggestion) {
	n, err := s.store.DropPendingForTransaction(ctx, s.tenantID, sg.BankTransactionID, sg.ReceiptID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to drop competing suggestions",
			log.FieldTransactionID, sg.BankTransactionID,
			log.FieldError, err)
		return
	}
	if n > 0 {
		s.logger.DebugContext(ctx, "Dropped competing suggestions",
			log.FieldTransactionID, sg.BankTransactionID,
			log.FieldCount, n)
	}
}

// Reject moves a suggestion from suggested to rejected.
func (s *Service) Reject(ctx context.Context, suggestionID string) (core.MatchSuggestion, error) {
	sg, err := s.transition(ctx, suggestionID, core.StatusRejected, nil)
	if err != nil {
		return core.MatchSuggestion{}, err
	}
	s.logger.InfoContext(ctx, "Match rejected",
		log.FieldSuggestionID, sg.ID,
		log.FieldReceiptID, sg.ReceiptID,
		log.FieldTransactionID, sg.BankTransactionID)
	s.publish(ctx, events.TypeMatchRejected, suggestionPayload(sg))
	return sg, nil
}

// transition applies one review decision. guard, when set, runs after the
// status check and can veto the move.
func (s *Service) transition(ctx context.Context, id string, to core.SuggestionStatus, guard func(context.Context, core.MatchSuggestion) error) (core.MatchSuggestion, error) {
	if id == "" {
		return core.MatchSuggestion{}, core.Invalidf("suggestion id is required")
	}
	sg, err := s.store.GetSuggestion(ctx, s.tenantID, id)
	if err != nil {
		return core.MatchSuggestion{}, fmt.Errorf("suggestion %s: %w", id, err)
	}
	if !sg.Status.CanTransition(to) {
		return core.MatchSuggestion{}, fmt.Errorf("suggestion %s is %s, cannot become %s: %w", id, sg.Status, to, core.ErrInvalidTransition)
	}
	if guard != nil {
		if err := guard(ctx, sg); err != nil {
			return core.MatchSuggestion{}, err
		}
	}
	now := s.now().UTC()
	if err := s.store.TransitionSuggestion(ctx, s.tenantID, id, sg.Status, to, now); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			return core.MatchSuggestion{}, fmt.Errorf("suggestion %s changed concurrently: %w", id, err)
		}
		return core.MatchSuggestion{}, fmt.Errorf("suggestion %s: %w", id, err)
	}
	sg.Status = to
	sg.UpdatedAt = now
	return sg, nil
}

func (s *Service) enqueueExport(ctx context.Context, suggestionID string) {
	if s.exports == nil {
		return
	}
	if err := s.exports.EnqueueExport(ctx, s.tenantID, suggestionID); err != nil {
		s.logger.WarnContext(ctx, "Failed to enqueue ledger export",
			log.FieldSuggestionID, suggestionID,
			log.FieldError, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data any) {
	if err := s.events.Publish(ctx, events.New(eventType, s.tenantID, data)); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish domain event",
			log.FieldEvent, eventType,
			log.FieldError, err)
	}
}

func suggestionPayload(sg core.MatchSuggestion) map[string]any {
	return map[string]any{
		"suggestionId":      sg.ID,
		"receiptId":         sg.ReceiptID,
		"bankTransactionId": sg.BankTransactionID,
		"score":             sg.Score,
		"status":            sg.Status,
	}
}
