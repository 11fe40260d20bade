package http

import (
	"time"

	"backoffice/internal/core"
)

// Views keep the wire shape independent of the domain structs. Amounts are
// fixed two-decimal strings and dates are YYYY-MM-DD.

type transactionView struct {
	ID         string `json:"id"`
	Merchant   string `json:"merchant"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	PostedDate string `json:"postedDate"`
	Cleared    bool   `json:"cleared"`
	Source     string `json:"source"`
}

type suggestionView struct {
	ID                string           `json:"id"`
	ReceiptID         string           `json:"receiptId"`
	BankTransactionID string           `json:"bankTransactionId"`
	Score             float64          `json:"score"`
	Status            string           `json:"status"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
	Transaction       *transactionView `json:"transaction,omitempty"`
}

type receiptView struct {
	ID           string           `json:"id"`
	VendorGuess  string           `json:"vendorGuess"`
	Total        string           `json:"total"`
	Currency     string           `json:"currency"`
	DocumentDate string           `json:"documentDate,omitempty"`
	Confidence   float64          `json:"confidence"`
	Matched      bool             `json:"matched"`
	Bucket       core.Bucket      `json:"bucket"`
	FileName     string           `json:"fileName,omitempty"`
	CreatedAt    string           `json:"createdAt"`
	Suggestions  []suggestionView `json:"suggestions"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toTransactionView(tx core.BankTransaction) transactionView {
	return transactionView{
		ID:         tx.ID,
		Merchant:   tx.Merchant,
		Amount:     tx.Amount.StringFixed(2),
		Currency:   tx.Currency,
		PostedDate: formatDate(tx.PostedDate),
		Cleared:    tx.Cleared,
		Source:     tx.Source,
	}
}

func toSuggestionView(sg core.MatchSuggestion) suggestionView {
	v := suggestionView{
		ID:                sg.ID,
		ReceiptID:         sg.ReceiptID,
		BankTransactionID: sg.BankTransactionID,
		Score:             sg.Score,
		Status:            string(sg.Status),
		UpdatedAt:         formatTimestamp(sg.UpdatedAt),
	}
	if sg.Transaction != nil {
		tv := toTransactionView(*sg.Transaction)
		v.Transaction = &tv
	}
	return v
}

func toReceiptView(r core.Receipt) receiptView {
	v := receiptView{
		ID:           r.ID,
		VendorGuess:  r.VendorGuess,
		Total:        r.Total.StringFixed(2),
		Currency:     r.Currency,
		DocumentDate: formatDate(r.DocumentDate),
		Confidence:   r.Confidence,
		Matched:      r.Matched,
		Bucket:       core.Classify(r),
		FileName:     r.FileName,
		CreatedAt:    formatTimestamp(r.CreatedAt),
		Suggestions:  make([]suggestionView, 0, len(r.Suggestions)),
	}
	for _, sg := range r.Suggestions {
		v.Suggestions = append(v.Suggestions, toSuggestionView(sg))
	}
	return v
}

func toReceiptViews(rs []core.Receipt) []receiptView {
	out := make([]receiptView, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReceiptView(r))
	}
	return out
}
