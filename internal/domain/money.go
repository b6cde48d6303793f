package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative amount in a single ISO-4217 style currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// amountLimit is the exclusive upper bound of a stored amount, matching the
// NUMERIC(18,2) order column.
var amountLimit = decimal.New(1, 16)

// NewMoney normalises currency to upper case and rounds amount to two places,
// half away from zero.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	rounded := amount.Round(2)
	if rounded.GreaterThanOrEqual(amountLimit) {
		return Money{}, ErrAmountTooLarge
	}
	cur, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: rounded, currency: cur}, nil
}

// ParseMoney is NewMoney for a decimal string such as "100.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return NewMoney(d, currency)
}

// NormalizeCurrency trims and upper-cases a 3-letter code.
func NormalizeCurrency(currency string) (string, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range cur {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return cur, nil
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string { return m.currency }

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String renders the amount with two decimals followed by the currency.
func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}
