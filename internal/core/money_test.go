package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{" 2.50 ", "2.5", true},
		{"$1,234.50", "1234.5", true},
		{"1.234,50", "1234.5", true},
		{"1,234", "1234", true},
		{"-12.00", "-12", true},
		{"-$5.00", "-5", true},
		{"(8.00)", "-8", true},
		{"€ 19,99", "19.99", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
		{"$", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("%q: unexpected error %v", tc.in, err)
			}
			want := decimal.RequireFromString(tc.out)
			if !got.Equal(want) {
				t.Fatalf("%q expected %s, got %s", tc.in, want, got)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestParsePositiveAmount(t *testing.T) {
	if _, err := ParsePositiveAmount("0"); err == nil {
		t.Fatal("expected error for zero")
	}
	if _, err := ParsePositiveAmount("-1"); err == nil {
		t.Fatal("expected error for negative")
	}
	if d, err := ParsePositiveAmount("10.5"); err != nil || d.String() != "10.5" {
		t.Fatalf("unexpected result %s, %v", d, err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("12.5"), "usd"); got != "12.50 USD" {
		t.Fatalf("got %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("3"), ""); got != "3.00" {
		t.Fatalf("got %q", got)
	}
}
