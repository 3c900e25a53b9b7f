// internal/models/quote.go
package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type PriceSource string

const (
	PriceSourceDexScreener PriceSource = "dexscreener"
	PriceSourceJupiter     PriceSource = "jupiter"
	PriceSourceFallback    PriceSource = "fallback"
)

// PriceQuote is a USD price for one whole token.
type PriceQuote struct {
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Source    PriceSource     `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// FeeSplit is the token amount for a charge. BaseTokens + FeeTokens == TotalTokens.
type FeeSplit struct {
	TotalTokens  int64           `json:"total_tokens"`
	BaseTokens   int64           `json:"base_tokens"`
	FeeTokens    int64           `json:"fee_tokens"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
}

var maxRawAmount = decimal.NewFromInt(math.MaxInt64)

// RawAmount converts the whole-token total into the mint's smallest unit. ok is false
// when the result does not fit in an int64.
func (f FeeSplit) RawAmount(decimals int32) (int64, bool) {
	raw := decimal.NewFromInt(f.TotalTokens).Shift(decimals)
	if raw.IsNegative() || raw.GreaterThan(maxRawAmount) {
		return 0, false
	}
	return raw.IntPart(), true
}
