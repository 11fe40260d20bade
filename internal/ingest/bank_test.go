package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseBankCSVSignedAmount(t *testing.T) {
	in := "Date,Description,Amount,Currency\n" +
		"2025-03-01,STAPLES  #123,-50.25,usd\n" +
		"03/02/2025,Refund,\"1,200.00\",\n" +
		"02 Mar 2025,Coffee,abc,\n" +
		",,,\n" +
		"bad-date,Lunch,-9.00,\n"
	rows, errs, err := ParseBankCSV(strings.NewReader(in), "USD")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "STAPLES #123", rows[0].Merchant)
	require.Equal(t, "-50.25", rows[0].Amount.String())
	require.Equal(t, "USD", rows[0].Currency)

	require.True(t, rows[1].PostedDate.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "1200", rows[1].Amount.String())

	require.Len(t, errs, 2)
	require.Equal(t, 4, errs[0].Line)
	require.Equal(t, 6, errs[1].Line)
}

func TestParseBankCSVDebitCredit(t *testing.T) {
	in := "Posting Date,Payee,Debit,Credit,Status\n" +
		"1/2/06,Shell,12.00,,cleared\n" +
		"1/3/06,Payroll,,500.00,\n"
	rows, errs, err := ParseBankCSV(strings.NewReader(in), "usd")
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, rows, 2)

	require.Equal(t, "-12", rows[0].Amount.String(), "debit should be negated")
	require.True(t, rows[0].Cleared)
	require.Equal(t, "500", rows[1].Amount.String(), "credit should be positive")
	require.False(t, rows[1].Cleared)
	require.Equal(t, 2006, rows[0].PostedDate.Year())
}

func TestParseBankCSVHeaderErrors(t *testing.T) {
	_, _, err := ParseBankCSV(strings.NewReader(""), "USD")
	require.ErrorIs(t, err, ErrEmptyStatement)

	_, _, err = ParseBankCSV(strings.NewReader("foo,bar\n1,2\n"), "USD")
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-01-02", "01/02/2025", "1/2/25", "02 Jan 2025"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, got.Equal(want), "%q parsed as %v", in, got)
	}
	_, err := ParseDate("2025/13/45")
	require.Error(t, err)
}
