package core

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusSuggested  SuggestionStatus = "suggested"
	StatusAutoLinked SuggestionStatus = "auto_linked"
	StatusConfirmed  SuggestionStatus = "confirmed"
	StatusRejected   SuggestionStatus = "rejected"
)

const (
	BucketAll        Bucket = "all"
	BucketMatched    Bucket = "matched"
	BucketUnmatched  Bucket = "unmatched"
	BucketExceptions Bucket = "exceptions"
)

// ExceptionThreshold is the OCR confidence below which a receipt lands in the
// exceptions bucket, whatever its match state.
const ExceptionThreshold = 0.70

type (
	SuggestionStatus string

	Bucket string

	// Receipt is an ingested receipt or invoice document awaiting reconciliation.
	Receipt struct {
		ID           string
		TenantID     string
		VendorGuess  string
		Total        decimal.Decimal
		Currency     string
		DocumentDate time.Time
		Confidence   float64
		Matched      bool
		FileName     string
		ContentHash  string
		CreatedAt    time.Time

		// Suggestions are ranked by score, best first.
		Suggestions []MatchSuggestion
	}

	// MatchSuggestion pairs a receipt with a bank transaction.
	MatchSuggestion struct {
		ID                string
		TenantID          string
		ReceiptID         string
		BankTransactionID string
		Score             float64
		Status            SuggestionStatus
		CreatedAt         time.Time
		UpdatedAt         time.Time

		Transaction *BankTransaction
	}

	BankTransaction struct {
		ID         string
		TenantID   string
		Merchant   string
		Amount     decimal.Decimal
		Currency   string
		PostedDate time.Time
		Cleared    bool
		Source     string
		CreatedAt  time.Time
	}
)

// CanTransition reports whether a suggestion may move from s to next.
// Only suggested→confirmed and suggested→rejected are allowed.
func (s SuggestionStatus) CanTransition(next SuggestionStatus) bool {
	if s != StatusSuggested {
		return false
	}
	return next == StatusConfirmed || next == StatusRejected
}

func (s SuggestionStatus) IsValid() bool {
	switch s {
	case StatusSuggested, StatusAutoLinked, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// ParseBucket maps a query value to a bucket. Unknown values fall back to all.
func ParseBucket(s string) Bucket {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case BucketMatched:
		return BucketMatched
	case BucketUnmatched:
		return BucketUnmatched
	case BucketExceptions, "exception":
		return BucketExceptions
	}
	return BucketAll
}

// Classify places a receipt in exactly one bucket. Low confidence wins over
// everything else.
func Classify(r Receipt) Bucket {
	if r.Confidence < ExceptionThreshold {
		return BucketExceptions
	}
	if r.Matched {
		return BucketMatched
	}
	return BucketUnmatched
}

// FirstSuggested returns the best-ranked suggestion still awaiting review.
func (r Receipt) FirstSuggested() (MatchSuggestion, bool) {
	for _, s := range r.Suggestions {
		if s.Status == StatusSuggested {
			return s, true
		}
	}
	return MatchSuggestion{}, false
}

// PendingSuggestions returns every suggestion still awaiting review.
func (r Receipt) PendingSuggestions() []MatchSuggestion {
	var out []MatchSuggestion
	for _, s := range r.Suggestions {
		if s.Status == StatusSuggested {
			out = append(out, s)
		}
	}
	return out
}

func (r Receipt) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrTenantRequired
	}
	if r.Total.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		return invalid("currency must be a 3-letter code")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return invalid("confidence must be between 0 and 1")
	}
	if len(r.VendorGuess) > 200 {
		return invalid("vendor too long (max 200 characters)")
	}
	return nil
}

func (t BankTransaction) Validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return ErrTenantRequired
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.PostedDate.IsZero() {
		return invalid("posted date is required")
	}
	if len(strings.TrimSpace(t.Currency)) != 3 {
		return invalid("currency must be a 3-letter code")
	}
	return nil
}
