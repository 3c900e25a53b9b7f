// internal/services/fee_split.go
package services

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/javajoker/payper-backend/internal/models"
)

var (
	hundred   = decimal.NewFromInt(100)
	maxTokens = decimal.NewFromInt(math.MaxInt64)
)

// Split converts a USD charge into whole tokens at the quoted price, grossed up so that
// after the buyback cut the base still covers the charge. All rounding is down.
func Split(usdAmount, feePercent decimal.Decimal, quote models.PriceQuote) (models.FeeSplit, error) {
	if !quote.PriceUSD.IsPositive() {
		return models.FeeSplit{}, fmt.Errorf("%w: %s", ErrInvalidPrice, quote.PriceUSD.String())
	}
	if feePercent.IsNegative() || feePercent.GreaterThanOrEqual(hundred) {
		return models.FeeSplit{}, fmt.Errorf("%w: fee percent %s", ErrInvalidFee, feePercent.String())
	}
	if usdAmount.IsNegative() {
		return models.FeeSplit{}, fmt.Errorf("%w: negative amount %s", ErrInvalidFee, usdAmount.String())
	}

	keep := decimal.NewFromInt(1).Sub(feePercent.Div(hundred))
	totalTokens := usdAmount.DivRound(keep.Mul(quote.PriceUSD), 18).Floor()
	if totalTokens.GreaterThan(maxTokens) {
		return models.FeeSplit{}, fmt.Errorf("%w: %s USD at %s is %s tokens", ErrInvalidPrice, usdAmount.String(), quote.PriceUSD.String(), totalTokens.String())
	}
	total := totalTokens.IntPart()
	fee := totalTokens.Mul(feePercent).Div(hundred).Floor().IntPart()

	return models.FeeSplit{
		TotalTokens:  total,
		BaseTokens:   total - fee,
		FeeTokens:    fee,
		UnitPriceUSD: quote.PriceUSD,
		FeePercent:   feePercent,
	}, nil
}

// rawAmount is RawAmount as an error for amounts the ledger cannot carry.
func rawAmount(split models.FeeSplit, decimals int32) (int64, error) {
	raw, ok := split.RawAmount(decimals)
	if !ok {
		return 0, fmt.Errorf("%w: %d tokens exceed the raw amount range at %d decimals", ErrInvalidPrice, split.TotalTokens, decimals)
	}
	return raw, nil
}
