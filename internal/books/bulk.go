package books

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"backoffice/internal/core"
	"backoffice/internal/log"
)

var ErrNoPendingSuggestion = errors.New("no pending suggestion")

// ItemError reports why one id of a batch failed.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult is the collect-and-report outcome of a batch. Errors follow
// the order of the input ids.
type BulkResult struct {
	Succeeded int         `json:"succeeded"`
	Errors    []ItemError `json:"errors"`
}

// BulkConfirm confirms each suggestion independently.
func (s *Service) BulkConfirm(ctx context.Context, ids []string) BulkResult {
	return s.runBulk(ctx, ids, func(ctx context.Context, id string) (int, error) {
		_, err := s.Confirm(ctx, id)
		return 1, err
	})
}

// BulkReject rejects each suggestion independently.
func (s *Service) BulkReject(ctx context.Context, ids []string) BulkResult {
	return s.runBulk(ctx, ids, func(ctx context.Context, id string) (int, error) {
		_, err := s.Reject(ctx, id)
		return 1, err
	})
}

// ConfirmAll confirms, per receipt, only the best-ranked suggestion still
// awaiting review.
func (s *Service) ConfirmAll(ctx context.Context, receiptIDs []string) BulkResult {
	return s.runBulk(ctx, receiptIDs, func(ctx context.Context, id string) (int, error) {
		r, err := s.store.GetReceipt(ctx, s.tenantID, id)
		if err != nil {
			return 0, fmt.Errorf("receipt %s: %w", id, err)
		}
		sg, ok := r.FirstSuggested()
		if !ok {
			return 0, ErrNoPendingSuggestion
		}
		if _, err := s.Confirm(ctx, sg.ID); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// RejectAll rejects, per receipt, every suggestion still awaiting review.
// Succeeded counts rejected suggestions.
func (s *Service) RejectAll(ctx context.Context, receiptIDs []string) BulkResult {
	return s.runBulk(ctx, receiptIDs, func(ctx context.Context, id string) (int, error) {
		r, err := s.store.GetReceipt(ctx, s.tenantID, id)
		if err != nil {
			return 0, fmt.Errorf("receipt %s: %w", id, err)
		}
		pending := r.PendingSuggestions()
		if len(pending) == 0 {
			return 0, ErrNoPendingSuggestion
		}
		done := 0
		var errs []error
		for _, sg := range pending {
			if _, err := s.Reject(ctx, sg.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			done++
		}
		return done, errors.Join(errs...)
	})
}

// runBulk applies op to every distinct id with bounded concurrency. A failing
// item never stops the others.
func (s *Service) runBulk(ctx context.Context, ids []string, op func(context.Context, string) (int, error)) BulkResult {
	ids = dedupe(ids)

	type outcome struct {
		n   int
		err error
	}
	results := make([]outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			var o outcome
			if id == "" {
				o.err = core.Invalidf("empty id")
			} else {
				o.n, o.err = op(ctx, id)
			}
			results[i] = o
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Errors: []ItemError{}}
	for i, o := range results {
		res.Succeeded += o.n
		if o.err != nil {
			res.Errors = append(res.Errors, ItemError{ID: ids[i], Error: o.err.Error()})
		}
	}
	if len(res.Errors) > 0 {
		s.logger.WarnContext(ctx, "Bulk operation finished with errors",
			log.FieldCount, len(ids),
			"succeeded", res.Succeeded,
			"failed", len(res.Errors))
	}
	return res
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
