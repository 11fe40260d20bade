// Package memory is an in-process implementation of store.Store, used for
// local runs and as the fixture backend in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu           sync.RWMutex
	receipts     map[string]core.Receipt
	suggestions  map[string]core.MatchSuggestion
	transactions map[string]core.BankTransaction
	orders       map[string]core.Order
	appointments map[string]core.Appointment
	products     map[string][]core.Product
	chunks       []core.KnowledgeChunk
}

func New() *Store {
	return &Store{
		receipts:     map[string]core.Receipt{},
		suggestions:  map[string]core.MatchSuggestion{},
		transactions: map[string]core.BankTransaction{},
		orders:       map[string]core.Order{},
		appointments: map[string]core.Appointment{},
		products:     map[string][]core.Product{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) CreateReceipt(_ context.Context, r core.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; ok {
		return core.ErrDuplicate
	}
	if r.ContentHash != "" {
		for _, existing := range s.receipts {
			if existing.TenantID == r.TenantID && existing.ContentHash == r.ContentHash {
				return core.ErrDuplicate
			}
		}
	}
	r.Suggestions = nil
	s.receipts[r.ID] = r
	return nil
}

func (s *Store) GetReceipt(_ context.Context, tenantID, id string) (core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok || r.TenantID != tenantID {
		return core.Receipt{}, core.ErrNotFound
	}
	return s.withSuggestions(r), nil
}

func (s *Store) FindReceiptByHash(_ context.Context, tenantID, hash string) (core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.TenantID == tenantID && hash != "" && r.ContentHash == hash {
			return s.withSuggestions(r), nil
		}
	}
	return core.Receipt{}, core.ErrNotFound
}

func (s *Store) ListReceipts(_ context.Context, tenantID string) ([]core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if r.TenantID == tenantID {
			out = append(out, s.withSuggestions(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SetReceiptMatched(_ context.Context, tenantID, id string, matched bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok || r.TenantID != tenantID {
		return core.ErrNotFound
	}
	r.Matched = matched
	s.receipts[id] = r
	return nil
}

// withSuggestions must be called with the lock held.
func (s *Store) withSuggestions(r core.Receipt) core.Receipt {
	var ss []core.MatchSuggestion
	for _, sg := range s.suggestions {
		if sg.ReceiptID != r.ID || sg.TenantID != r.TenantID {
			continue
		}
		if tx, ok := s.transactions[sg.BankTransactionID]; ok {
			tx := tx
			sg.Transaction = &tx
		}
		ss = append(ss, sg)
	}
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Score != ss[j].Score {
			return ss[i].Score > ss[j].Score
		}
		return ss[i].ID < ss[j].ID
	})
	r.Suggestions = ss
	return r
}

func (s *Store) GetSuggestion(_ context.Context, tenantID, id string) (core.MatchSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.suggestions[id]
	if !ok || sg.TenantID != tenantID {
		return core.MatchSuggestion{}, core.ErrNotFound
	}
	return sg, nil
}

func (s *Store) TransitionSuggestion(_ context.Context, tenantID, id string, from, to core.SuggestionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.suggestions[id]
	if !ok || sg.TenantID != tenantID {
		return core.ErrNotFound
	}
	if sg.Status != from {
		return core.ErrInvalidTransition
	}
	sg.Status = to
	sg.UpdatedAt = at
	s.suggestions[id] = sg
	return nil
}

func (s *Store) ReplacePendingSuggestions(_ context.Context, tenantID, receiptID string, next []core.MatchSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sg := range s.suggestions {
		if sg.TenantID == tenantID && sg.ReceiptID == receiptID && sg.Status == core.StatusSuggested {
			delete(s.suggestions, id)
		}
	}
	for _, sg := range next {
		sg.TenantID = tenantID
		sg.ReceiptID = receiptID
		sg.Transaction = nil
		s.suggestions[sg.ID] = sg
	}
	return nil
}

func (s *Store) LinkedReceiptID(_ context.Context, tenantID, txID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sg := range s.suggestions {
		if sg.TenantID != tenantID || sg.BankTransactionID != txID {
			continue
		}
		if sg.Status == core.StatusConfirmed || sg.Status == core.StatusAutoLinked {
			return sg.ReceiptID, nil
		}
	}
	return "", nil
}

func (s *Store) DropPendingForTransaction(_ context.Context, tenantID, txID, keepReceiptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sg := range s.suggestions {
		if sg.TenantID == tenantID && sg.BankTransactionID == txID &&
			sg.ReceiptID != keepReceiptID && sg.Status == core.StatusSuggested {
			delete(s.suggestions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.BankTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupeKey(tx)
	for _, existing := range s.transactions {
		if existing.TenantID == tx.TenantID && dedupeKey(existing) == key {
			return false, nil
		}
	}
	s.transactions[tx.ID] = tx
	return true, nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string) ([]core.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.BankTransaction
	for _, tx := range s.transactions {
		if tx.TenantID == tenantID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedDate.Equal(out[j].PostedDate) {
			return out[i].PostedDate.Before(out[j].PostedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func dedupeKey(tx core.BankTransaction) string {
	return strings.Join([]string{
		tx.PostedDate.Format("2006-01-02"),
		tx.Amount.StringFixed(2),
		strings.ToLower(strings.TrimSpace(tx.Merchant)),
		strings.ToLower(strings.TrimSpace(tx.Source)),
	}, "|")
}

func orderKey(tenantID, number string) string {
	return tenantID + "/" + strings.ToUpper(strings.TrimSpace(number))
}

func (s *Store) GetOrder(_ context.Context, tenantID, number string) (core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderKey(tenantID, number)]
	if !ok {
		return core.Order{}, core.ErrNotFound
	}
	return o, nil
}

func (s *Store) SaveOrder(_ context.Context, o core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderKey(o.TenantID, o.Number)] = o
	return nil
}

func (s *Store) GetAppointment(_ context.Context, tenantID, orderNumber string) (core.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[orderKey(tenantID, orderNumber)]
	if !ok {
		return core.Appointment{}, core.ErrNotFound
	}
	return a, nil
}

func (s *Store) SaveAppointment(_ context.Context, a core.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[orderKey(a.TenantID, a.OrderNumber)] = a
	return nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Product(nil), s.products[tenantID]...), nil
}

func (s *Store) SaveProduct(_ context.Context, tenantID string, p core.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.products[tenantID]
	for i := range list {
		if list[i].SKU == p.SKU {
			list[i] = p
			return nil
		}
	}
	s.products[tenantID] = append(list, p)
	return nil
}

func (s *Store) SaveChunks(_ context.Context, chunks []core.KnowledgeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *Store) ListChunks(_ context.Context, tenantID string) ([]core.KnowledgeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.KnowledgeChunk
	for _, c := range s.chunks {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}
