// internal/services/pricing_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
)

// OracleOptions configures one PriceOracle. MaxReferenceTokens <= 0 disables the
// plausibility bound.
type OracleOptions struct {
	Mint               string
	DexScreenerURL     string
	JupiterURL         string
	FallbackPriceUSD   decimal.Decimal
	CacheTTL           time.Duration
	SourceTimeout      time.Duration
	ReferenceChargeUSD decimal.Decimal
	MaxReferenceTokens int64
	FeePercent         decimal.Decimal
}

// PriceOracle resolves the USD price of one mint from ranked market sources.
type PriceOracle struct {
	opts       OracleOptions
	httpClient *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time

	mu     sync.RWMutex
	cached *models.PriceQuote
	group  singleflight.Group
}

type priceFetcher struct {
	source models.PriceSource
	fetch  func(ctx context.Context) (decimal.Decimal, error)
}

func NewPriceOracle(opts OracleOptions, httpClient *http.Client, m *metrics.Metrics) *PriceOracle {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PriceOracle{
		opts:       opts,
		httpClient: httpClient,
		metrics:    m,
		now:        time.Now,
	}
}

// PaymentTokenOracleOptions builds the options for the payment token.
func PaymentTokenOracleOptions(cfg *config.Config) OracleOptions {
	return OracleOptions{
		Mint:               cfg.Solana.TokenMint,
		DexScreenerURL:     cfg.Pricing.DexScreenerURL,
		JupiterURL:         cfg.Pricing.JupiterURL,
		FallbackPriceUSD:   decimal.NewFromFloat(cfg.Pricing.FallbackPriceUSD),
		CacheTTL:           cfg.Pricing.CacheTTL,
		SourceTimeout:      cfg.Pricing.SourceTimeout,
		ReferenceChargeUSD: decimal.NewFromFloat(cfg.Pricing.ReferenceChargeUSD),
		MaxReferenceTokens: cfg.Pricing.MaxReferenceTokens,
		FeePercent:         decimal.NewFromFloat(cfg.Payment.FeePercent),
	}
}

// NativeOracleOptions builds the options for the native currency used to fund buybacks.
func NativeOracleOptions(cfg *config.Config) OracleOptions {
	return OracleOptions{
		Mint:             cfg.Solana.NativeMint,
		DexScreenerURL:   cfg.Pricing.DexScreenerURL,
		JupiterURL:       cfg.Pricing.JupiterURL,
		FallbackPriceUSD: decimal.NewFromFloat(cfg.Pricing.NativeFallbackUSD),
		CacheTTL:         cfg.Pricing.CacheTTL,
		SourceTimeout:    cfg.Pricing.SourceTimeout,
	}
}

// GetPrice returns a cached quote when fresh, otherwise walks the sources in rank order.
func (o *PriceOracle) GetPrice(ctx context.Context) (models.PriceQuote, error) {
	if q, ok := o.fresh(); ok {
		return q, nil
	}

	v, err, _ := o.group.Do("price", func() (interface{}, error) {
		if q, ok := o.fresh(); ok {
			return q, nil
		}
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		q, err := o.resolve(context.WithoutCancel(ctx))
		if err != nil {
			return models.PriceQuote{}, err
		}
		o.mu.Lock()
		o.cached = &q
		o.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return models.PriceQuote{}, err
	}

	quote := v.(models.PriceQuote)
	o.metrics.PriceQuoted(o.opts.Mint, string(quote.Source))
	return quote, nil
}

// Invalidate drops the cached quote.
func (o *PriceOracle) Invalidate() {
	o.mu.Lock()
	o.cached = nil
	o.mu.Unlock()
}

func (o *PriceOracle) fresh() (models.PriceQuote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cached == nil || o.now().Sub(o.cached.FetchedAt) >= o.opts.CacheTTL {
		return models.PriceQuote{}, false
	}
	return *o.cached, true
}

func (o *PriceOracle) resolve(ctx context.Context) (models.PriceQuote, error) {
	fetchers := []priceFetcher{
		{source: models.PriceSourceDexScreener, fetch: o.fetchDexScreener},
		{source: models.PriceSourceJupiter, fetch: o.fetchJupiter},
	}

	for _, f := range fetchers {
		price, err := o.fetchWithTimeout(ctx, f)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"source": f.source,
				"mint":   o.opts.Mint,
			}).WithError(err).Warn("Price source skipped")
			continue
		}
		return models.PriceQuote{PriceUSD: price, Source: f.source, FetchedAt: o.now()}, nil
	}

	if err := o.checkPlausible(o.opts.FallbackPriceUSD); err != nil {
		logrus.WithField("mint", o.opts.Mint).WithError(err).Error("Fallback token price rejected")
		return models.PriceQuote{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	logrus.WithField("mint", o.opts.Mint).Warn("Using fallback token price")
	return models.PriceQuote{
		PriceUSD:  o.opts.FallbackPriceUSD,
		Source:    models.PriceSourceFallback,
		FetchedAt: o.now(),
	}, nil
}

func (o *PriceOracle) fetchWithTimeout(ctx context.Context, f priceFetcher) (decimal.Decimal, error) {
	if o.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SourceTimeout)
		defer cancel()
	}

	price, err := f.fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := o.checkPlausible(price); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// checkPlausible rejects prices under which the reference charge would need more tokens
// than the configured bound.
func (o *PriceOracle) checkPlausible(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", ErrInvalidPrice, price.String())
	}
	if o.opts.MaxReferenceTokens <= 0 || !o.opts.ReferenceChargeUSD.IsPositive() {
		return nil
	}

	keep := decimal.NewFromInt(1).Sub(o.opts.FeePercent.Div(hundred))
	if !keep.IsPositive() {
		return fmt.Errorf("%w: fee percent %s", ErrInvalidFee, o.opts.FeePercent.String())
	}
	tokens := o.opts.ReferenceChargeUSD.DivRound(keep, 18).DivRound(price, 18)
	if tokens.GreaterThan(decimal.NewFromInt(o.opts.MaxReferenceTokens)) {
		return fmt.Errorf("%w: implausible price %s (%s tokens for %s USD)",
			ErrInvalidPrice, price.String(), tokens.StringFixed(0), o.opts.ReferenceChargeUSD.String())
	}
	return nil
}

type dexScreenerResponse struct {
	Pairs []struct {
		PriceUSD json.RawMessage `json:"priceUsd"`
	} `json:"pairs"`
}

func (o *PriceOracle) fetchDexScreener(ctx context.Context) (decimal.Decimal, error) {
	endpoint := strings.TrimRight(o.opts.DexScreenerURL, "/") + "/" + url.PathEscape(o.opts.Mint)

	var resp dexScreenerResponse
	if err := o.getJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	if len(resp.Pairs) == 0 {
		return decimal.Zero, fmt.Errorf("no pairs listed")
	}
	return parsePrice(resp.Pairs[0].PriceUSD)
}

type jupiterResponse struct {
	Data map[string]struct {
		Price json.RawMessage `json:"price"`
	} `json:"data"`
}

func (o *PriceOracle) fetchJupiter(ctx context.Context) (decimal.Decimal, error) {
	endpoint := o.opts.JupiterURL + "?ids=" + url.QueryEscape(o.opts.Mint)

	var resp jupiterResponse
	if err := o.getJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	entry, ok := resp.Data[o.opts.Mint]
	if !ok {
		return decimal.Zero, fmt.Errorf("mint not listed")
	}
	return parsePrice(entry.Price)
}

func (o *PriceOracle) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parsePrice accepts a JSON number or string. A decimal comma is read as a point.
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, fmt.Errorf("price missing")
	}

	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	text = strings.Replace(strings.TrimSpace(text), ",", ".", 1)

	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable price %q", text)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price.String())
	}
	return price, nil
}

// PricingService quotes model charges in payment tokens.
type PricingService struct {
	oracle     *PriceOracle
	catalog    *models.Catalog
	feePercent decimal.Decimal
}

func NewPricingService(oracle *PriceOracle, catalog *models.Catalog, feePercent decimal.Decimal) *PricingService {
	return &PricingService{
		oracle:     oracle,
		catalog:    catalog,
		feePercent: feePercent,
	}
}

func (s *PricingService) FeePercent() decimal.Decimal {
	return s.feePercent
}

// Quote prices a USD amount at the current token price.
func (s *PricingService) Quote(ctx context.Context, usdAmount decimal.Decimal) (models.FeeSplit, error) {
	quote, err := s.oracle.GetPrice(ctx)
	if err != nil {
		return models.FeeSplit{}, err
	}
	return Split(usdAmount, s.feePercent, quote)
}

// QuoteModel prices one catalog model.
func (s *PricingService) QuoteModel(ctx context.Context, modelID string) (models.ModelInfo, models.FeeSplit, error) {
	info, ok := s.catalog.Get(modelID)
	if !ok {
		return models.ModelInfo{}, models.FeeSplit{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	split, err := s.Quote(ctx, info.PriceUSD)
	if err != nil {
		return models.ModelInfo{}, models.FeeSplit{}, err
	}
	return info, split, nil
}

// RefreshPrice drops the cached token price and fetches a new one.
func (s *PricingService) RefreshPrice(ctx context.Context) (models.PriceQuote, error) {
	s.oracle.Invalidate()
	return s.oracle.GetPrice(ctx)
}

func (s *PricingService) Catalog() *models.Catalog {
	return s.catalog
}
