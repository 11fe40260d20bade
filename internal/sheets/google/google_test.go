package google

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ports "backoffice/internal/sheets"
)

func TestNew_ConfigErrors(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing spreadsheet", Config{}, "missing GOOGLE_SPREADSHEET_ID"},
		{"no credentials", Config{SpreadsheetID: "s"}, "missing credentials"},
		{"invalid oauth client", Config{SpreadsheetID: "s", OAuthClientJSON: "invalid-json", OAuthTokenJSON: `{"access_token":"x"}`}, "oauth config"},
		{"token without client", Config{SpreadsheetID: "s", OAuthTokenJSON: `{"access_token":"x"}`}, "oauth config"},
		{"missing service account file", Config{SpreadsheetID: "s", ServiceAccountFile: "/nonexistent/sa.json"}, "read service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Ledger", "2025 Ledger"},
		{"  Ledger ", "2025 Ledger"},
		{"2024 Ledger", "2024 Ledger"},
		{"1234Ledger", "2025 1234Ledger"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2025); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestRowValues(t *testing.T) {
	row := ports.LedgerRow{
		ConfirmedAt:   time.Date(2025, 3, 6, 14, 30, 0, 0, time.UTC),
		PostedDate:    time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Vendor:        "Shell",
		Merchant:      "SHELL OIL 123",
		Amount:        decimal.RequireFromString("-42.1"),
		Currency:      "usd",
		Score:         0.914,
		SuggestionID:  "s1",
		ReceiptID:     "r1",
		TransactionID: "tx1",
	}
	got := rowValues(row)
	want := []any{"2025-03-06 14:30:00", "2025-03-05", "Shell", "SHELL OIL 123", "-42.10", "USD", "0.91", "r1", "tx1"}
	if len(got) != len(want) {
		t.Fatalf("got %d columns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAppendMatch_RejectsInvalidRowBeforeCallingAPI(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	_, err := c.AppendMatch(context.Background(), ports.LedgerRow{SuggestionID: "s1"})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}

	valid := ports.LedgerRow{
		SuggestionID: "s1",
		PostedDate:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromInt(10),
	}
	if _, err := c.AppendMatch(context.Background(), valid); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected uninitialized service error, got %v", err)
	}
}
