// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts as they appear
// on receipts and bank statements.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a human-entered amount to a decimal.
//
// It accepts dot (12.34) or comma (12,34) decimal separators, thousands
// separators ("1,234.50", "1.234,50"), a leading currency symbol and
// accounting-style negatives ("(12.00)"). Signs are preserved; callers decide
// whether negatives are allowed.
//
// Examples:
//
//	ParseAmount("12.34")     -> 12.34
//	ParseAmount("$1,234.50") -> 1234.50
//	ParseAmount("1.234,50")  -> 1234.50
//	ParseAmount("(8.00)")    -> -8.00
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.Is(unicode.Sc, r)
	})
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = strings.TrimSpace(s[1:])
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(s[1:])
	}
	// Currency symbol after the sign, e.g. "-$5.00".
	s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.Is(unicode.Sc, r) })
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	s = normalizeSeparators(s)
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParsePositiveAmount is ParseAmount restricted to values > 0.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// normalizeSeparators rewrites the string so that '.' is the only decimal
// separator and thousands separators are dropped. The last separator seen is
// the decimal one when it is followed by one or two digits.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,50
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,234.50
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		decimals := len(s) - lastComma - 1
		if strings.Count(s, ",") == 1 && decimals > 0 && decimals <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	}
	return s
}

// FormatAmount renders a decimal with two fraction digits and its currency code.
func FormatAmount(d decimal.Decimal, currency string) string {
	if currency == "" {
		return d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + strings.ToUpper(currency)
}
