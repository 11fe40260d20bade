package ingest

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"backoffice/internal/core"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

func TestReadReceipt(t *testing.T) {
	v := url.Values{}
	v.Set("vendor", "  Office   Depot ")
	v.Set("total", "$42.10")
	v.Set("currency", "usd")
	v.Set("date", "2025-03-01")
	v.Set("confidence", "91%")

	up, err := ReadReceipt(bytes.NewReader(pdfBytes), "scans/receipt.pdf", "application/pdf", v.Get, "EUR")
	require.NoError(t, err)
	require.Equal(t, "receipt.pdf", up.FileName)
	require.Equal(t, "Office Depot", up.VendorGuess)
	require.Equal(t, "USD", up.Currency)
	require.Equal(t, "42.1", up.Total.String())
	require.Equal(t, 0.91, up.Confidence)
	require.Equal(t, 1, up.DocumentDate.Day())
	require.Len(t, up.ContentHash, 64, "expected sha256 hex")

	again, err := ReadReceipt(bytes.NewReader(pdfBytes), "copy.pdf", "", v.Get, "EUR")
	require.NoError(t, err)
	require.Equal(t, up.ContentHash, again.ContentHash, "same bytes must hash the same")
	require.Equal(t, "application/pdf", again.ContentType)
}

func TestReadReceiptRejects(t *testing.T) {
	good := url.Values{"total": {"10"}}
	bad := url.Values{"total": {"-3"}}

	tests := []struct {
		name   string
		body   []byte
		file   string
		ctype  string
		fields url.Values
		want   error
	}{
		{"text file", []byte("hello"), "a.txt", "text/plain", good, ErrUnsupportedType},
		{"empty file", nil, "a.pdf", "application/pdf", good, ErrEmptyFile},
		{"too large", make([]byte, MaxReceiptBytes+1), "a.png", "image/png", good, ErrTooLarge},
		{"negative total", pdfBytes, "a.pdf", "application/pdf", bad, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReceipt(bytes.NewReader(tt.body), tt.file, tt.ctype, tt.fields.Get, "USD")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"", 0, true},
		{"0.75", 0.75, true},
		{"75", 0.75, true},
		{"75%", 0.75, true},
		{"1", 1, true},
		{"150", 0, false},
		{"x", 0, false},
		{"NaN", 0, false},
		{"nan%", 0, false},
		{"Inf", 0, false},
		{"-Inf", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseConfidence(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
