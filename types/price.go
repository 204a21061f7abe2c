package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a display price for a store product. Amounts are exact decimals
// in the major currency unit ("2.99", not 299 cents) because store metadata
// reports localized prices that way.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"` // ISO 4217, upper case
}

// NewPrice parses amount as a decimal in the given currency.
func NewPrice(amount, currency string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Price{}, fmt.Errorf("price: parse %q: %w", amount, err)
	}
	if d.IsNegative() {
		return Price{}, fmt.Errorf("price: negative amount %q", amount)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Price{}, fmt.Errorf("price: invalid currency %q", currency)
	}

	return Price{Amount: d, Currency: currency}, nil
}

// MustPrice is like NewPrice but panics on error. Use for hardcoded tables.
func MustPrice(amount, currency string) Price {
	p, err := NewPrice(amount, currency)
	if err != nil {
		panic(err)
	}
	return p
}

// USD creates a Price in US Dollars, e.g. USD("12.99").
func USD(amount string) Price { return MustPrice(amount, "USD") }

// IsZero reports whether the price has no currency and no amount.
func (p Price) IsZero() bool {
	return p.Currency == "" && p.Amount.IsZero()
}

// Equal reports whether both prices have the same currency and amount.
func (p Price) Equal(other Price) bool {
	return p.Currency == other.Currency && p.Amount.Equal(other.Amount)
}

// LessThan compares two prices of the same currency.
// Panics if currencies don't match.
func (p Price) LessThan(other Price) bool {
	if p.Currency != other.Currency {
		panic(fmt.Sprintf("price: currency mismatch: %s != %s", p.Currency, other.Currency))
	}
	return p.Amount.LessThan(other.Amount)
}

// FormatMajor returns the amount with the currency's number of decimals.
func (p Price) FormatMajor() string {
	return p.Amount.StringFixed(currencyDecimals(p.Currency))
}

// String returns the price with its currency symbol, e.g. "$12.99".
func (p Price) String() string {
	return currencySymbol(p.Currency) + p.FormatMajor()
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"USD": "$",
		"EUR": "€",
		"GBP": "£",
		"JPY": "¥",
		"CNY": "¥",
		"CAD": "C$",
		"AUD": "A$",
	}
	if sym, ok := symbols[currency]; ok {
		return sym
	}
	return currency + " "
}

func currencyDecimals(currency string) int32 {
	switch currency {
	case "JPY", "KRW", "VND", "CLP":
		return 0
	default:
		return 2
	}
}
