// Package money keeps amounts exact: parsing goes through shopspring/decimal
// and arithmetic is done on integer minor units.
package money

import "strings"

// Currency is an ISO 4217 code with its minor-unit exponent.
type Currency struct {
	Code     string
	Exponent int32
}

var known = map[string]Currency{
	"AUD": {Code: "AUD", Exponent: 2},
	"CAD": {Code: "CAD", Exponent: 2},
	"CHF": {Code: "CHF", Exponent: 2},
	"EUR": {Code: "EUR", Exponent: 2},
	"GBP": {Code: "GBP", Exponent: 2},
	"JPY": {Code: "JPY", Exponent: 0},
	"NZD": {Code: "NZD", Exponent: 2},
	"SGD": {Code: "SGD", Exponent: 2},
	"USD": {Code: "USD", Exponent: 2},
	"ZAR": {Code: "ZAR", Exponent: 2},
}

// DefaultCurrencies is the supported set when none is configured.
var DefaultCurrencies = []string{"USD", "EUR", "GBP", "ZAR", "CHF", "AUD", "CAD", "NZD", "SGD"}

// Lookup finds a known currency by code, case-insensitively.
func Lookup(code string) (Currency, bool) {
	c, ok := known[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}
