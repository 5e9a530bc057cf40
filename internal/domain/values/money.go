package values

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value as an integer count of minor currency
// units (cents for USD). Bid arbitration compares amounts as integers;
// decimal is used only at the parse/format boundary.
type Money struct {
	minorUnits int64
	currency   string
}

// Common currency codes (ISO 4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	CAD = "CAD"
)

// NewMoney creates a Money value from minor units.
func NewMoney(minorUnits int64, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}

	return Money{
		minorUnits: minorUnits,
		currency:   strings.ToUpper(currency),
	}, nil
}

// NewMoneyFromString creates Money from a decimal string amount ("12.34")
// and currency. Amounts with sub-minor-unit precision are rejected.
func NewMoneyFromString(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount: %w", err)
	}

	units := dec.Mul(decimal.NewFromInt(100))
	if !units.Equal(units.Truncate(0)) {
		return Money{}, fmt.Errorf("amount %s has sub-cent precision", amount)
	}

	return NewMoney(units.IntPart(), currency)
}

// MustNewMoney creates Money and panics on error (for constants/tests)
func MustNewMoney(minorUnits int64, currency string) Money {
	m, err := NewMoney(minorUnits, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value in the given currency
func Zero(currency string) Money {
	return MustNewMoney(0, currency)
}

// MinorUnits returns the raw integer amount.
func (m Money) MinorUnits() int64 {
	return m.minorUnits
}

// Currency returns the currency code
func (m Money) Currency() string {
	return m.currency
}

// Decimal returns the amount as a decimal in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.minorUnits).Div(decimal.NewFromInt(100))
}

// String returns the amount with currency code (e.g. "123.45 USD").
func (m Money) String() string {
	return m.Decimal().StringFixed(2) + " " + m.currency
}

// IsZero checks if the amount is zero
func (m Money) IsZero() bool {
	return m.minorUnits == 0
}

// IsPositive checks if the amount is strictly positive
func (m Money) IsPositive() bool {
	return m.minorUnits > 0
}

// IsNegative checks if the amount is negative
func (m Money) IsNegative() bool {
	return m.minorUnits < 0
}

// Equal checks if two Money values are equal (same amount and currency)
func (m Money) Equal(other Money) bool {
	return m.minorUnits == other.minorUnits && m.currency == other.currency
}

// Compare returns -1, 0, or 1 based on comparison with other Money.
// Panics if currencies don't match.
func (m Money) Compare(other Money) int {
	if m.currency != other.currency {
		panic(fmt.Sprintf("cannot compare different currencies: %s vs %s", m.currency, other.currency))
	}
	switch {
	case m.minorUnits < other.minorUnits:
		return -1
	case m.minorUnits > other.minorUnits:
		return 1
	default:
		return 0
	}
}

// GreaterThan reports whether m is strictly greater than other.
func (m Money) GreaterThan(other Money) bool {
	return m.Compare(other) > 0
}

// Add adds two Money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add different currencies: %s and %s", m.currency, other.currency)
	}

	return Money{
		minorUnits: m.minorUnits + other.minorUnits,
		currency:   m.currency,
	}, nil
}

// MarshalJSON encodes Money as {"amount_minor_units": N, "currency": "USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	data := struct {
		MinorUnits int64  `json:"amount_minor_units"`
		Currency   string `json:"currency"`
	}{
		MinorUnits: m.minorUnits,
		Currency:   m.currency,
	}
	return json.Marshal(data)
}

// UnmarshalJSON decodes the wire representation produced by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var temp struct {
		MinorUnits int64  `json:"amount_minor_units"`
		Currency   string `json:"currency"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	money, err := NewMoney(temp.MinorUnits, temp.Currency)
	if err != nil {
		return err
	}

	*m = money
	return nil
}

// ValidateCurrency reports whether the code names a supported currency.
// Case insensitive; the canonical form is upper case.
func ValidateCurrency(currency string) error {
	return validateCurrency(currency)
}

func validateCurrency(currency string) error {
	if currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}

	currency = strings.ToUpper(currency)

	if len(currency) != 3 {
		return fmt.Errorf("currency code must be 3 characters")
	}

	validCurrencies := map[string]bool{
		USD: true, EUR: true, GBP: true, CAD: true,
		"AUD": true, "CHF": true, "SEK": true, "NZD": true,
	}

	if !validCurrencies[currency] {
		return fmt.Errorf("unsupported currency: %s", currency)
	}

	return nil
}
