package domain

import "github.com/shopspring/decimal"

const (
	// CurrencyPLN is the primary settlement currency.
	CurrencyPLN = "PLN"
	// CurrencyEUR is the secondary display currency captured at checkout.
	CurrencyEUR = "EUR"
)

// Money holds the same amount captured in both storefront currencies, in minor units.
type Money struct {
	PLN int64
	EUR int64
}

// Add returns the component-wise sum.
func (m Money) Add(other Money) Money {
	return Money{PLN: m.PLN + other.PLN, EUR: m.EUR + other.EUR}
}

// Sub returns the component-wise difference.
func (m Money) Sub(other Money) Money {
	return Money{PLN: m.PLN - other.PLN, EUR: m.EUR - other.EUR}
}

// Times multiplies both components by qty.
func (m Money) Times(qty int) Money {
	return Money{PLN: m.PLN * int64(qty), EUR: m.EUR * int64(qty)}
}

// IsZero reports whether both amounts are zero.
func (m Money) IsZero() bool {
	return m.PLN == 0 && m.EUR == 0
}

// Format renders the amount for currency as a fixed two-decimal string, e.g. "150.00 PLN".
func (m Money) Format(currency string) string {
	var minor int64
	switch currency {
	case CurrencyEUR:
		minor = m.EUR
	default:
		currency = CurrencyPLN
		minor = m.PLN
	}
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}
