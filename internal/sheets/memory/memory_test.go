package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/sheets"
)

func TestExporterAppendAndRows(t *testing.T) {
	e := New()
	row := sheets.LedgerRow{
		SuggestionID: "s1",
		PostedDate:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromInt(-12),
	}

	ref, err := e.AppendMatch(context.Background(), row)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	ref, _ = e.AppendMatch(context.Background(), row)
	if ref != "mem:2" {
		t.Fatalf("expected mem:2, got %q", ref)
	}

	rows := e.Rows()
	rows[0].Vendor = "mutated"
	if e.Rows()[0].Vendor != "" {
		t.Fatal("Rows must return a copy")
	}
}

func TestExporterRejectsInvalidRow(t *testing.T) {
	e := New()
	if _, err := e.AppendMatch(context.Background(), sheets.LedgerRow{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(e.Rows()) != 0 {
		t.Fatal("invalid row must not be stored")
	}
}
