package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func receipt(vendor, total string, date time.Time, conf float64) core.Receipt {
	return core.Receipt{
		ID:           "r1",
		TenantID:     "t1",
		VendorGuess:  vendor,
		Total:        decimal.RequireFromString(total),
		Currency:     "USD",
		DocumentDate: date,
		Confidence:   conf,
	}
}

func tx(id, merchant, amount string, date time.Time) core.BankTransaction {
	return core.BankTransaction{
		ID:         id,
		TenantID:   "t1",
		Merchant:   merchant,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		PostedDate: date,
	}
}

func TestScoreExactMatch(t *testing.T) {
	r := receipt("Office Depot", "42.10", day(2025, 3, 1), 0.9)
	if got := Score(r, tx("b1", "OFFICE DEPOT", "-42.10", day(2025, 3, 1))); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestScoreCurrencyMismatch(t *testing.T) {
	r := receipt("Office Depot", "42.10", day(2025, 3, 1), 0.9)
	b := tx("b1", "Office Depot", "-42.10", day(2025, 3, 1))
	b.Currency = "EUR"
	if got := Score(r, b); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestAmountScore(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"100", "-100", 1},
		{"100", "105", 0.5},
		{"100", "110", 0},
		{"100", "150", 0},
	}
	for _, tc := range cases {
		got := AmountScore(decimal.RequireFromString(tc.a), decimal.RequireFromString(tc.b))
		if round4(got) != tc.want {
			t.Fatalf("%s vs %s: expected %v, got %v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestDateScore(t *testing.T) {
	base := day(2025, 3, 10)
	if got := DateScore(base, base.Add(5*time.Hour)); got != 1 {
		t.Fatalf("same day expected 1, got %v", got)
	}
	if got := DateScore(base, day(2025, 3, 17)); got != 0 {
		t.Fatalf("7 days expected 0, got %v", got)
	}
	if got := DateScore(base, time.Time{}); got != 0 {
		t.Fatalf("zero date expected 0, got %v", got)
	}
}

func TestVendorScore(t *testing.T) {
	if got := VendorScore("Starbucks", "STARBUCKS #1234 SEATTLE"); got < containmentScore {
		t.Fatalf("containment expected >= %v, got %v", containmentScore, got)
	}
	if got := VendorScore("Amazon", "Shell"); got > 0.5 {
		t.Fatalf("unrelated names scored too high: %v", got)
	}
	if got := VendorScore("", "Shell"); got != 0 {
		t.Fatalf("empty vendor expected 0, got %v", got)
	}
}

func TestSuggestRanksAndLimits(t *testing.T) {
	r := receipt("Staples", "50.00", day(2025, 3, 1), 0.8)
	txs := []core.BankTransaction{
		tx("far", "Staples", "-50.00", day(2025, 3, 6)),
		tx("best", "Staples", "-50.00", day(2025, 3, 1)),
		tx("close", "Staples Inc", "-50.00", day(2025, 3, 2)),
		tx("cheap", "Staples", "-48.00", day(2025, 3, 1)),
		tx("noise", "Shell", "-9.00", day(2025, 1, 1)),
	}
	got := Suggest(r, txs, Options{})
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(got))
	}
	if got[0].BankTransactionID != "best" {
		t.Fatalf("expected best first, got %s", got[0].BankTransactionID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("suggestions not ranked: %v", got)
		}
	}
	for _, s := range got {
		if s.BankTransactionID == "noise" {
			t.Fatal("noise should be below min score")
		}
	}
}

func TestSuggestAutoLinksOnlyBest(t *testing.T) {
	r := receipt("Staples", "50.00", day(2025, 3, 1), 0.9)
	txs := []core.BankTransaction{
		tx("a", "Staples", "-50.00", day(2025, 3, 1)),
		tx("b", "Staples", "-50.00", day(2025, 3, 1)),
	}
	got := Suggest(r, txs, Options{})
	if got[0].Status != core.StatusAutoLinked {
		t.Fatalf("expected auto link, got %s", got[0].Status)
	}
	if got[1].Status != core.StatusSuggested {
		t.Fatalf("only the best may be auto-linked, got %s", got[1].Status)
	}
	if !HasAutoLink(got) {
		t.Fatal("HasAutoLink should be true")
	}
}

func TestSuggestNoAutoLinkForLowConfidence(t *testing.T) {
	r := receipt("Staples", "50.00", day(2025, 3, 1), 0.5)
	got := Suggest(r, []core.BankTransaction{tx("a", "Staples", "-50.00", day(2025, 3, 1))}, Options{})
	if len(got) != 1 || got[0].Status != core.StatusSuggested {
		t.Fatalf("expected a plain suggestion, got %+v", got)
	}
}

func TestSuggestSkipsClearedLinkedAndRejected(t *testing.T) {
	r := receipt("Staples", "50.00", day(2025, 3, 1), 0.9)
	cleared := tx("cleared", "Staples", "-50.00", day(2025, 3, 1))
	cleared.Cleared = true
	txs := []core.BankTransaction{
		cleared,
		tx("linked", "Staples", "-50.00", day(2025, 3, 1)),
		tx("rejected", "Staples", "-50.00", day(2025, 3, 1)),
	}
	got := Suggest(r, txs, Options{
		Linked:   map[string]bool{"linked": true},
		Rejected: map[string]bool{"rejected": true},
	})
	if len(got) != 0 {
		t.Fatalf("expected no suggestions, got %+v", got)
	}
}
