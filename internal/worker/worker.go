// Package worker handles the messages consumed from the backoffice queue:
// ledger exports of matched suggestions and queued webhook deliveries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/amqp"
	"backoffice/internal/core"
	"backoffice/internal/log"
	"backoffice/internal/sheets"
	"backoffice/internal/store"
)

// WebhookSender delivers a rendered webhook body.
type WebhookSender interface {
	Send(ctx context.Context, id, url, event string, body []byte) error
}

// Worker exports matched suggestions to the ledger and delivers webhooks.
type Worker struct {
	store    store.BooksStore
	exporter sheets.LedgerExporter
	sender   WebhookSender
	logger   *log.Logger
	now      func() time.Time
}

func New(st store.BooksStore, exporter sheets.LedgerExporter, sender WebhookSender, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Discard()
	}
	return &Worker{
		store:    st,
		exporter: exporter,
		sender:   sender,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// Handlers returns the callbacks for amqp.Client.Consume.
func (w *Worker) Handlers() amqp.Handlers {
	return amqp.Handlers{
		Export:  w.HandleExport,
		Webhook: w.HandleWebhook,
	}
}

// HandleExport appends one matched suggestion to the ledger. Suggestions that
// no longer exist or are not matched are dropped without retry.
func (w *Worker) HandleExport(ctx context.Context, msg *amqp.ExportMessage) error {
	w.logger.InfoContext(ctx, "Processing export message",
		log.FieldTenantID, msg.TenantID,
		log.FieldSuggestionID, msg.SuggestionID)

	row, err := w.buildRow(ctx, msg.TenantID, msg.SuggestionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvalidTransition) {
			w.logger.WarnContext(ctx, "Dropping export message",
				log.FieldSuggestionID, msg.SuggestionID,
				log.FieldError, err)
			return amqp.Permanent(err)
		}
		return fmt.Errorf("load suggestion: %w", err)
	}

	ref, err := w.exporter.AppendMatch(ctx, row)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	w.logger.InfoContext(ctx, "Exported match",
		log.FieldSuggestionID, row.SuggestionID,
		log.FieldReceiptID, row.ReceiptID,
		log.FieldTransactionID, row.TransactionID,
		log.FieldAmount, row.Amount.StringFixed(2),
		log.FieldSheetsRef, ref)
	return nil
}

func (w *Worker) buildRow(ctx context.Context, tenantID, suggestionID string) (sheets.LedgerRow, error) {
	sg, err := w.store.GetSuggestion(ctx, tenantID, suggestionID)
	if err != nil {
		return sheets.LedgerRow{}, err
	}
	if sg.Status != core.StatusConfirmed && sg.Status != core.StatusAutoLinked {
		return sheets.LedgerRow{}, fmt.Errorf("%w: suggestion is %s", core.ErrInvalidTransition, sg.Status)
	}

	receipt, err := w.store.GetReceipt(ctx, tenantID, sg.ReceiptID)
	if err != nil {
		return sheets.LedgerRow{}, fmt.Errorf("receipt %s: %w", sg.ReceiptID, err)
	}

	tx := sg.Transaction
	if tx == nil {
		txs, err := w.store.ListTransactions(ctx, tenantID)
		if err != nil {
			return sheets.LedgerRow{}, err
		}
		for i := range txs {
			if txs[i].ID == sg.BankTransactionID {
				tx = &txs[i]
				break
			}
		}
	}
	if tx == nil {
		return sheets.LedgerRow{}, fmt.Errorf("transaction %s: %w", sg.BankTransactionID, core.ErrNotFound)
	}

	confirmedAt := sg.UpdatedAt
	if confirmedAt.IsZero() {
		confirmedAt = w.now()
	}
	currency := tx.Currency
	if currency == "" {
		currency = receipt.Currency
	}

	return sheets.LedgerRow{
		ConfirmedAt:   confirmedAt,
		PostedDate:    tx.PostedDate,
		Vendor:        receipt.VendorGuess,
		Merchant:      tx.Merchant,
		Amount:        tx.Amount,
		Currency:      currency,
		Score:         sg.Score,
		SuggestionID:  sg.ID,
		ReceiptID:     receipt.ID,
		TransactionID: tx.ID,
	}, nil
}

// HandleWebhook delivers a queued webhook. Deliveries are attempted once:
// any failure, including a message without a URL, drops the message.
func (w *Worker) HandleWebhook(ctx context.Context, msg *amqp.WebhookMessage) error {
	if msg.URL == "" {
		return amqp.Permanent(fmt.Errorf("webhook %s has no url", msg.ID))
	}
	if err := w.sender.Send(ctx, msg.ID, msg.URL, msg.Event, msg.Body); err != nil {
		w.logger.WarnContext(ctx, "Webhook delivery failed",
			log.FieldEvent, msg.Event,
			log.FieldError, err)
		return amqp.Permanent(err)
	}
	w.logger.InfoContext(ctx, "Webhook delivered",
		log.FieldEvent, msg.Event,
		log.FieldTenantID, msg.TenantID)
	return nil
}
