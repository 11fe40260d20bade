// Package matching scores receipts against bank transactions.
package matching

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

const (
	amountWeight = 0.5
	dateWeight   = 0.3
	vendorWeight = 0.2

	// amountTolerance is the relative difference at which the amount component reaches zero.
	amountTolerance = 0.10
	dateWindowDays  = 7.0

	containmentScore = 0.9
)

// Options tunes Suggest.
type Options struct {
	TopN          int
	MinScore      float64
	AutoLinkScore float64

	// Linked holds transaction ids already paired with a confirmed or
	// auto-linked suggestion.
	Linked map[string]bool
	// Rejected holds transaction ids the reviewer rejected for this receipt.
	Rejected map[string]bool

	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{TopN: 3, MinScore: 0.4, AutoLinkScore: 0.95}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.MinScore <= 0 {
		o.MinScore = d.MinScore
	}
	if o.AutoLinkScore <= 0 {
		o.AutoLinkScore = d.AutoLinkScore
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Score returns the match score in [0,1] of a receipt against a transaction.
func Score(r core.Receipt, tx core.BankTransaction) float64 {
	if !strings.EqualFold(strings.TrimSpace(r.Currency), strings.TrimSpace(tx.Currency)) {
		return 0
	}
	s := amountWeight*AmountScore(r.Total, tx.Amount) +
		dateWeight*DateScore(r.DocumentDate, tx.PostedDate) +
		vendorWeight*VendorScore(r.VendorGuess, tx.Merchant)
	return clamp01(round4(s))
}

// AmountScore compares absolute values; bank debits are usually negative.
func AmountScore(receipt, bank decimal.Decimal) float64 {
	a, b := receipt.Abs(), bank.Abs()
	if a.Equal(b) {
		return 1
	}
	if a.IsZero() {
		return 0
	}
	rel, _ := a.Sub(b).Abs().Div(a).Float64()
	return clamp01(1 - rel/amountTolerance)
}

func DateScore(doc, posted time.Time) float64 {
	if doc.IsZero() || posted.IsZero() {
		return 0
	}
	days := math.Abs(dayOf(posted).Sub(dayOf(doc)).Hours() / 24)
	return clamp01(1 - days/dateWindowDays)
}

// VendorScore is the normalized Levenshtein similarity of the two names.
// Containment of one name in the other scores containmentScore.
func VendorScore(vendor, merchant string) float64 {
	a, b := normalize(vendor), normalize(merchant)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	sim := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxInt(len([]rune(a)), len([]rune(b))))
	if strings.Contains(a, b) || strings.Contains(b, a) {
		sim = math.Max(sim, containmentScore)
	}
	return clamp01(sim)
}

type candidate struct {
	tx    core.BankTransaction
	score float64
	days  float64
}

// Suggest ranks the candidate transactions for a receipt. At most one
// suggestion, the best, is auto-linked.
func Suggest(r core.Receipt, txs []core.BankTransaction, opts Options) []core.MatchSuggestion {
	opts = opts.withDefaults()

	var cands []candidate
	for _, tx := range txs {
		if tx.Cleared || opts.Linked[tx.ID] || opts.Rejected[tx.ID] {
			continue
		}
		s := Score(r, tx)
		if s < opts.MinScore {
			continue
		}
		cands = append(cands, candidate{
			tx:    tx,
			score: s,
			days:  math.Abs(dayOf(tx.PostedDate).Sub(dayOf(r.DocumentDate)).Hours() / 24),
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].days != cands[j].days {
			return cands[i].days < cands[j].days
		}
		return cands[i].tx.ID < cands[j].tx.ID
	})
	if len(cands) > opts.TopN {
		cands = cands[:opts.TopN]
	}

	now := opts.Now().UTC()
	out := make([]core.MatchSuggestion, 0, len(cands))
	for i, c := range cands {
		status := core.StatusSuggested
		if i == 0 && c.score >= opts.AutoLinkScore && r.Confidence >= core.ExceptionThreshold {
			status = core.StatusAutoLinked
		}
		tx := c.tx
		out = append(out, core.MatchSuggestion{
			ID:                uuid.NewString(),
			TenantID:          r.TenantID,
			ReceiptID:         r.ID,
			BankTransactionID: tx.ID,
			Score:             c.score,
			Status:            status,
			CreatedAt:         now,
			UpdatedAt:         now,
			Transaction:       &tx,
		})
	}
	return out
}

// HasAutoLink reports whether any suggestion was auto-linked.
func HasAutoLink(ss []core.MatchSuggestion) bool {
	for _, s := range ss {
		if s.Status == core.StatusAutoLinked {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
