// Package balance turns the text of an operator dashboard balance widget into a decimal amount.
package balance

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency glyph used by all supported operators
const takaSign = "৳"

// A token starts with a digit; separators and the fraction are optional
var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Extract parses the first numeric token of raw. Separators are dropped and the
// taka glyph and markup comment delimiters are ignored. Text with no numeric
// token yields zero and found=false; that is a valid zero balance, not an error.
func Extract(raw string) (amount decimal.Decimal, found bool) {
	cleaned := strings.NewReplacer(takaSign, "", "<!--", "", "-->", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)

	token := amountPattern.FindString(cleaned)
	if token == "" {
		return decimal.Zero, false
	}

	value, err := decimal.NewFromString(strings.ReplaceAll(token, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	// Rounding to two places happens when the balance is stored
	return value, true
}

// MustExtract is Extract without the found flag
func MustExtract(raw string) decimal.Decimal {
	amount, _ := Extract(raw)
	return amount
}
