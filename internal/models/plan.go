package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BaseCurrency is the currency Plan.Price is quoted in.
const BaseCurrency = "USD"

type Plan struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	CardCount int
	// Prices holds the plan's price in currencies other than BaseCurrency,
	// keyed by upper-case ISO code.
	Prices map[string]decimal.Decimal
}

// PriceIn returns the plan's price in currency. There is no conversion: a
// currency the plan is not priced in is reported as missing.
func (p Plan) PriceIn(currency string) (decimal.Decimal, bool) {
	currency = strings.ToUpper(currency)
	if currency == BaseCurrency {
		return p.Price, true
	}
	price, ok := p.Prices[currency]
	return price, ok
}

var zeroDecimalCurrencies = map[string]bool{"CLP": true, "JPY": true, "KRW": true, "PYG": true}

// CurrencyPlaces is the number of minor-unit digits amounts in currency carry.
func CurrencyPlaces(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}
