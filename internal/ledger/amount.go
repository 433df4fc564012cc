package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a user-entered monetary amount. A comma decimal
// separator is normalized to a dot before parsing. Amounts must be strictly
// positive; anything else is a ValidationError.
func ParseAmount(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "empty"}
	}

	s = strings.ReplaceAll(s, ",", ".")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return amount, nil
}
