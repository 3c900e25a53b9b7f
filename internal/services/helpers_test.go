package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/database"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/providers"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Solana: config.SolanaConfig{
			Network:          "mainnet-beta",
			CollectionWallet: collectionWallet,
			TokenMint:        testMint,
			TokenSymbol:      "PAYPER",
			TokenDecimals:    6,
		},
		Payment: config.PaymentConfig{
			FeePercent:             10,
			PendingTTL:             15 * time.Minute,
			ClaimTimeout:           2 * time.Minute,
			AmountTolerancePercent: 5,
			Realm:                  "payper402",
		},
		Models: config.ModelPriceConfig{
			ImageGPT:      0.042,
			ImageIdeogram: 0.066,
			ImageQwen:     0.03,
			VideoSora2:    0.21,
			VideoVeo:      0.36,
		},
	}
}

// offlineOracle has no reachable sources and always answers with the fallback price.
func offlineOracle() *PriceOracle {
	return NewPriceOracle(OracleOptions{
		Mint:             testMint,
		FallbackPriceUSD: decimal.RequireFromString("0.0001"),
		CacheTTL:         time.Minute,
		SourceTimeout:    time.Second,
		FeePercent:       decimal.NewFromInt(10),
	}, nil, nil)
}

type fakeRaw struct {
	status providers.Status
}

func (r fakeRaw) ProviderID() string { return "fake" }

func (r fakeRaw) Normalize() providers.Status { return r.status }

// fakeAdapter serves every catalog model. Options containing "bogus" are rejected.
type fakeAdapter struct {
	creates atomic.Int32
	queries atomic.Int32

	mu        sync.Mutex
	createErr error
	status    providers.Status
	prompts   []string
}

func (a *fakeAdapter) ID() string { return "fake" }

func (a *fakeAdapter) Models() []string {
	return []string{models.ModelGPTImage, models.ModelIdeogram, models.ModelQwen, models.ModelSora2, models.ModelVeo}
}

func (a *fakeAdapter) PrepareOptions(modelID string, options providers.Options) (providers.Options, error) {
	if _, ok := options["bogus"]; ok {
		return nil, fmt.Errorf("%w: unknown option bogus", providers.ErrInvalidOptions)
	}
	out := providers.Options{}
	for k, v := range options {
		out[k] = v
	}
	return out, nil
}

func (a *fakeAdapter) CreateTask(ctx context.Context, modelID, prompt string, options providers.Options) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		err := a.createErr
		a.createErr = nil
		return "", err
	}
	n := a.creates.Add(1)
	a.prompts = append(a.prompts, prompt)
	return fmt.Sprintf("task-%d", n), nil
}

func (a *fakeAdapter) QueryTask(ctx context.Context, taskID string) (providers.RawStatus, error) {
	a.queries.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return fakeRaw{status: a.status}, nil
}

func (a *fakeAdapter) failNextCreate(err error) {
	a.mu.Lock()
	a.createErr = err
	a.mu.Unlock()
}

func (a *fakeAdapter) setStatus(s providers.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

type fakeArtifacts struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeArtifacts) Rehost(ctx context.Context, taskID string, urls []string) ([]string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = fmt.Sprintf("https://cdn.example.com/%s_%d.png", taskID, i)
	}
	return out, nil
}

func newTestGenerationService(t *testing.T, db *gorm.DB, adapter providers.Adapter, artifacts ArtifactStore) *GenerationService {
	t.Helper()
	catalog := models.NewCatalog(testConfig().Models)
	return NewGenerationService(db, providers.NewRegistry(adapter), catalog, artifacts, nil)
}
