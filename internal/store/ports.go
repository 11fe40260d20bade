// Package store declares the persistence ports used by the books and
// assistant services. Every call is scoped by tenant.
package store

import (
	"context"
	"time"

	"backoffice/internal/core"
)

type (
	ReceiptStore interface {
		// CreateReceipt inserts a receipt. A receipt with the same content hash
		// for the tenant yields core.ErrDuplicate.
		CreateReceipt(ctx context.Context, r core.Receipt) error
		GetReceipt(ctx context.Context, tenantID, id string) (core.Receipt, error)
		FindReceiptByHash(ctx context.Context, tenantID, hash string) (core.Receipt, error)
		// ListReceipts returns every receipt with its suggestions, ranked by score,
		// each carrying its bank transaction.
		ListReceipts(ctx context.Context, tenantID string) ([]core.Receipt, error)
		SetReceiptMatched(ctx context.Context, tenantID, id string, matched bool) error
	}

	SuggestionStore interface {
		GetSuggestion(ctx context.Context, tenantID, id string) (core.MatchSuggestion, error)
		// TransitionSuggestion moves a suggestion from one status to another.
		// It fails with core.ErrInvalidTransition when the stored status is not from.
		TransitionSuggestion(ctx context.Context, tenantID, id string, from, to core.SuggestionStatus, at time.Time) error
		// ReplacePendingSuggestions drops the receipt's suggestions still in the
		// suggested state and inserts next.
		ReplacePendingSuggestions(ctx context.Context, tenantID, receiptID string, next []core.MatchSuggestion) error
		// LinkedReceiptID returns the receipt a confirmed or auto-linked
		// suggestion pairs with the bank transaction, or "" when it is free.
		LinkedReceiptID(ctx context.Context, tenantID, txID string) (string, error)
		// DropPendingForTransaction deletes suggested rows pointing at txID on
		// every receipt except keepReceiptID and reports how many went.
		DropPendingForTransaction(ctx context.Context, tenantID, txID, keepReceiptID string) (int, error)
	}

	TransactionStore interface {
		// CreateTransaction inserts a bank transaction unless one with the same
		// date, amount, merchant and source exists. It reports whether a row was added.
		CreateTransaction(ctx context.Context, tx core.BankTransaction) (bool, error)
		ListTransactions(ctx context.Context, tenantID string) ([]core.BankTransaction, error)
	}

	BooksStore interface {
		ReceiptStore
		SuggestionStore
		TransactionStore
	}

	OrderStore interface {
		GetOrder(ctx context.Context, tenantID, number string) (core.Order, error)
		SaveOrder(ctx context.Context, o core.Order) error
	}

	AppointmentStore interface {
		// GetAppointment returns the appointment attached to an order.
		GetAppointment(ctx context.Context, tenantID, orderNumber string) (core.Appointment, error)
		SaveAppointment(ctx context.Context, a core.Appointment) error
	}

	ProductStore interface {
		ListProducts(ctx context.Context, tenantID string) ([]core.Product, error)
		SaveProduct(ctx context.Context, tenantID string, p core.Product) error
	}

	KnowledgeStore interface {
		SaveChunks(ctx context.Context, chunks []core.KnowledgeChunk) error
		ListChunks(ctx context.Context, tenantID string) ([]core.KnowledgeChunk, error)
	}

	AssistantStore interface {
		OrderStore
		AppointmentStore
		ProductStore
		KnowledgeStore
	}

	// Store is the full persistence surface of the backoffice.
	Store interface {
		BooksStore
		AssistantStore
		Ping(ctx context.Context) error
		Close() error
	}
)
