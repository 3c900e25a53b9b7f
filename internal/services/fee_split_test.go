package services

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/models"
)

func quoteAt(price string) models.PriceQuote {
	return models.PriceQuote{PriceUSD: decimal.RequireFromString(price), Source: models.PriceSourceFallback}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		usd   string
		fee   string
		price string
		total int64
		base  int64
		cut   int64
	}{
		{"gpt image at fallback price", "0.042", "10", "0.0001", 466, 420, 46},
		{"sora at fallback price", "0.21", "10", "0.0001", 2333, 2100, 233},
		{"no fee", "0.03", "0", "0.0001", 300, 300, 0},
		{"zero charge", "0", "10", "0.0001", 0, 0, 0},
		{"expensive token", "0.36", "10", "2.5", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := Split(decimal.RequireFromString(tt.usd), decimal.RequireFromString(tt.fee), quoteAt(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.total, split.TotalTokens)
			assert.Equal(t, tt.base, split.BaseTokens)
			assert.Equal(t, tt.cut, split.FeeTokens)
			assert.Equal(t, split.TotalTokens, split.BaseTokens+split.FeeTokens)
		})
	}
}

func TestSplitBaseCoversCharge(t *testing.T) {
	price := quoteAt("0.0001")
	for _, usd := range []string{"0.03", "0.042", "0.066", "0.21", "0.36"} {
		split, err := Split(decimal.RequireFromString(usd), decimal.NewFromInt(10), price)
		require.NoError(t, err)

		// Flooring can lose at most one token of value.
		covered := decimal.NewFromInt(split.BaseTokens + 1).Mul(price.PriceUSD)
		assert.True(t, covered.GreaterThanOrEqual(decimal.RequireFromString(usd)), "usd %s", usd)
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	usd := decimal.RequireFromString("0.042")
	ten := decimal.NewFromInt(10)

	_, err := Split(usd, ten, quoteAt("0"))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Split(usd, ten, quoteAt("-0.5"))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Split(usd, decimal.NewFromInt(100), quoteAt("0.0001"))
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = Split(usd, decimal.NewFromInt(-1), quoteAt("0.0001"))
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = Split(decimal.RequireFromString("-0.01"), ten, quoteAt("0.0001"))
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestSplitRawAmount(t *testing.T) {
	split, err := Split(decimal.RequireFromString("0.042"), decimal.NewFromInt(10), quoteAt("0.0001"))
	require.NoError(t, err)
	raw, ok := split.RawAmount(6)
	require.True(t, ok)
	assert.Equal(t, int64(466000000), raw)

	big := models.FeeSplit{TotalTokens: math.MaxInt64 / 10}
	_, ok = big.RawAmount(6)
	assert.False(t, ok)

	_, err = rawAmount(big, 6)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestSplitRejectsTotalsPastInt64(t *testing.T) {
	_, err := Split(decimal.NewFromInt(1000000), decimal.NewFromInt(10), quoteAt("0.0000000000001"))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	// Just inside the range still splits.
	split, err := Split(decimal.NewFromInt(math.MaxInt64), decimal.Zero, quoteAt("1"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), split.TotalTokens)
	assert.Equal(t, int64(math.MaxInt64), split.BaseTokens)
}

func TestSplitInvariantsHoldAcrossInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(402))
	one := decimal.NewFromInt(1)

	for i := 0; i < 2000; i++ {
		usd := decimal.New(rng.Int63n(100000000), -6)       // up to 100 USD in micro-dollar steps
		feePercent := decimal.New(rng.Int63n(1000), -1)     // 0.0 to 99.9
		price := decimal.New(1+rng.Int63n(1000000000), -10) // 1e-10 to 0.1 USD

		split, err := Split(usd, feePercent, models.PriceQuote{PriceUSD: price})
		require.NoError(t, err, "usd %s fee %s price %s", usd, feePercent, price)

		total := decimal.NewFromInt(split.TotalTokens)
		assert.GreaterOrEqual(t, split.BaseTokens, int64(0))
		assert.GreaterOrEqual(t, split.FeeTokens, int64(0))
		assert.Equal(t, split.TotalTokens, split.BaseTokens+split.FeeTokens)
		assert.Equal(t, total.Mul(feePercent).Div(hundred).Floor().IntPart(), split.FeeTokens,
			"usd %s fee %s price %s", usd, feePercent, price)

		// total is the largest whole number of tokens whose post-fee value fits the charge.
		keep := one.Sub(feePercent.Div(hundred))
		assert.True(t, total.Mul(price).Mul(keep).LessThanOrEqual(usd), "usd %s fee %s price %s", usd, feePercent, price)
		assert.True(t, total.Add(one).Mul(price).Mul(keep).GreaterThan(usd), "usd %s fee %s price %s", usd, feePercent, price)
	}
}
