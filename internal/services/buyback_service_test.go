package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/models"
)

type fakeSwapper struct {
	mu       sync.Mutex
	failures int
	amounts  []decimal.Decimal
}

func (s *fakeSwapper) Buy(ctx context.Context, amountNative decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts = append(s.amounts, amountNative)
	if s.failures > 0 {
		s.failures--
		return "", fmt.Errorf("%w: blockhash not found", ErrBuybackFailed)
	}
	return fmt.Sprintf("sig-%d", len(s.amounts)), nil
}

func (s *fakeSwapper) buys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.amounts)
}

type fixedPrice struct {
	price decimal.Decimal
	err   error
}

func (p fixedPrice) GetPrice(ctx context.Context) (models.PriceQuote, error) {
	if p.err != nil {
		return models.PriceQuote{}, p.err
	}
	return models.PriceQuote{PriceUSD: p.price, Source: models.PriceSourceFallback, FetchedAt: time.Now()}, nil
}

func buybackConfig() config.BuybackConfig {
	return config.BuybackConfig{
		Enabled:        true,
		QueueSize:      16,
		BatchSize:      3,
		FlushInterval:  time.Hour,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestBuyback(t *testing.T, db *gorm.DB, cfg config.BuybackConfig, swapper Swapper) *BuybackService {
	t.Helper()
	return NewBuybackService(db, cfg, fixedPrice{price: decimal.NewFromInt(200)}, swapper, nil)
}

func enqueueN(t *testing.T, svc *BuybackService, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, svc.Enqueue(context.Background(), fmt.Sprintf("ref-%d", i), decimal.RequireFromString("0.0042")))
	}
}

func batchesWith(t *testing.T, db *gorm.DB, status models.BuybackStatus) []models.BuybackBatch {
	t.Helper()
	var batches []models.BuybackBatch
	require.NoError(t, db.Where("status = ?", status).Find(&batches).Error)
	return batches
}

func contributionCount(t *testing.T, db *gorm.DB, status models.BuybackStatus) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.BuybackContribution{}).Where("status = ?", status).Count(&n).Error)
	return n
}

func TestBuybackEnqueue(t *testing.T) {
	db := newTestDB(t)
	svc := newTestBuyback(t, db, buybackConfig(), &fakeSwapper{})
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, "ref-a", decimal.RequireFromString("0.0042")))
	require.NoError(t, svc.Enqueue(ctx, "ref-a", decimal.RequireFromString("0.0042")))
	require.NoError(t, svc.Enqueue(ctx, "ref-zero", decimal.Zero))

	assert.Equal(t, int64(1), contributionCount(t, db, models.BuybackStatusQueued))
	assert.Len(t, svc.queue, 1)
}

func TestBuybackEnqueueQueueFull(t *testing.T) {
	db := newTestDB(t)
	cfg := buybackConfig()
	cfg.QueueSize = 1
	svc := newTestBuyback(t, db, cfg, &fakeSwapper{})

	enqueueN(t, svc, 3)

	// Overflow stays in the table for the sweep.
	assert.Len(t, svc.queue, 1)
	assert.Equal(t, int64(3), contributionCount(t, db, models.BuybackStatusQueued))
}

func TestBuybackProcessBatch(t *testing.T) {
	db := newTestDB(t)
	swapper := &fakeSwapper{}
	svc := newTestBuyback(t, db, buybackConfig(), swapper)
	ctx := context.Background()
	enqueueN(t, svc, 3)

	svc.processBatch(ctx, svc.queuedIDs(ctx, time.Time{}))

	executed := batchesWith(t, db, models.BuybackStatusExecuted)
	require.Len(t, executed, 1)
	batch := executed[0]
	assert.Equal(t, 3, batch.ContributionCount)
	assert.Equal(t, "0.0126", batch.TotalUSD.String())
	assert.Equal(t, "200", batch.NativePriceUSD.String())
	assert.Equal(t, "0.000063", batch.AmountNative.String())
	assert.Equal(t, "sig-1", batch.TxSignature)
	assert.Equal(t, 1, batch.Attempts)
	assert.NotNil(t, batch.ExecutedAt)

	require.Len(t, swapper.amounts, 1)
	assert.Equal(t, "0.000063", swapper.amounts[0].String())
	assert.Equal(t, int64(3), contributionCount(t, db, models.BuybackStatusExecuted))

	// Ids with nothing queued produce no batch.
	svc.processBatch(ctx, []uuid.UUID{uuid.New()})
	assert.Equal(t, 1, swapper.buys())

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Executed)
	assert.Equal(t, int64(0), stats.Queued)
	assert.Equal(t, int64(1), stats.ExecutedBatches)
	assert.Equal(t, "0.0126", stats.ExecutedUSD.String())
}

func TestBuybackRetries(t *testing.T) {
	t.Run("succeeds after a failed attempt", func(t *testing.T) {
		db := newTestDB(t)
		swapper := &fakeSwapper{failures: 1}
		svc := newTestBuyback(t, db, buybackConfig(), swapper)
		ctx := context.Background()
		enqueueN(t, svc, 1)

		svc.processBatch(ctx, svc.queuedIDs(ctx, time.Time{}))

		executed := batchesWith(t, db, models.BuybackStatusExecuted)
		require.Len(t, executed, 1)
		assert.Equal(t, 2, executed[0].Attempts)
		assert.Equal(t, 2, swapper.buys())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		db := newTestDB(t)
		swapper := &fakeSwapper{failures: 10}
		svc := newTestBuyback(t, db, buybackConfig(), swapper)
		ctx := context.Background()
		enqueueN(t, svc, 2)

		svc.processBatch(ctx, svc.queuedIDs(ctx, time.Time{}))

		failed := batchesWith(t, db, models.BuybackStatusFailed)
		require.Len(t, failed, 1)
		assert.Equal(t, 3, failed[0].Attempts)
		assert.Contains(t, failed[0].LastError, "blockhash not found")
		assert.Equal(t, 3, swapper.buys())
		assert.Equal(t, int64(2), contributionCount(t, db, models.BuybackStatusFailed))
	})

	t.Run("unconfigured wallet fails without retrying", func(t *testing.T) {
		db := newTestDB(t)
		svc := newTestBuyback(t, db, buybackConfig(), nil)
		ctx := context.Background()
		enqueueN(t, svc, 1)

		svc.processBatch(ctx, svc.queuedIDs(ctx, time.Time{}))

		failed := batchesWith(t, db, models.BuybackStatusFailed)
		require.Len(t, failed, 1)
		assert.Equal(t, 1, failed[0].Attempts)
		assert.Equal(t, ErrBuybackNotConfigured.Error(), failed[0].LastError)
	})

	t.Run("native price outage is retried", func(t *testing.T) {
		db := newTestDB(t)
		swapper := &fakeSwapper{}
		svc := NewBuybackService(db, buybackConfig(), fixedPrice{err: errors.New("no quote")}, swapper, nil)
		ctx := context.Background()
		enqueueN(t, svc, 1)

		svc.processBatch(ctx, svc.queuedIDs(ctx, time.Time{}))

		failed := batchesWith(t, db, models.BuybackStatusFailed)
		require.Len(t, failed, 1)
		assert.Equal(t, 3, failed[0].Attempts)
		assert.Equal(t, 0, swapper.buys())
	})
}

func TestBuybackBackoff(t *testing.T) {
	cfg := buybackConfig()
	cfg.InitialBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = 300 * time.Millisecond
	svc := NewBuybackService(nil, cfg, nil, nil, nil)

	assert.Equal(t, 100*time.Millisecond, svc.backoff(1))
	assert.Equal(t, 200*time.Millisecond, svc.backoff(2))
	assert.Equal(t, 300*time.Millisecond, svc.backoff(3))
	assert.Equal(t, 300*time.Millisecond, svc.backoff(8))
}

func TestBuybackConsumer(t *testing.T) {
	db := newTestDB(t)
	swapper := &fakeSwapper{}
	cfg := buybackConfig()
	cfg.BatchSize = 2
	svc := newTestBuyback(t, db, cfg, swapper)

	// Left queued by a previous process.
	require.NoError(t, db.Create(&models.BuybackContribution{
		SourceReference: "ref-old",
		AmountUSD:       decimal.RequireFromString("0.021"),
		EnqueuedAt:      time.Now().Add(-time.Hour),
		Status:          models.BuybackStatusQueued,
	}).Error)

	enqueueN(t, svc, 3)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	svc.Start(ctx)

	assert.Eventually(t, func() bool {
		return contributionCount(t, db, models.BuybackStatusExecuted) == 4
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	svc.Wait()

	assert.Len(t, batchesWith(t, db, models.BuybackStatusExecuted), 2)
	assert.Equal(t, 2, swapper.buys())
}

func TestBuybackRecoversInterruptedBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// A process that claimed a batch and died before the buy.
	crashed := newTestBuyback(t, db, buybackConfig(), &fakeSwapper{})
	enqueueN(t, crashed, 2)
	var ids []uuid.UUID
	require.NoError(t, db.Model(&models.BuybackContribution{}).Pluck("id", &ids).Error)
	interrupted, err := crashed.claim(ctx, ids)
	require.NoError(t, err)
	require.NotNil(t, interrupted)
	require.Equal(t, int64(2), contributionCount(t, db, models.BuybackStatusBatched))

	swapper := &fakeSwapper{}
	cfg := buybackConfig()
	cfg.BatchSize = 2
	svc := newTestBuyback(t, db, cfg, swapper)

	runCtx, cancel := context.WithCancel(ctx)
	svc.Start(runCtx)

	assert.Eventually(t, func() bool {
		return contributionCount(t, db, models.BuybackStatusExecuted) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	svc.Wait()

	assert.Equal(t, int64(0), contributionCount(t, db, models.BuybackStatusBatched))
	assert.Equal(t, 1, swapper.buys())

	var stale models.BuybackBatch
	require.NoError(t, db.First(&stale, "id = ?", interrupted.ID).Error)
	assert.Equal(t, models.BuybackStatusFailed, stale.Status)
	assert.Equal(t, "interrupted before completion", stale.LastError)
	assert.Len(t, batchesWith(t, db, models.BuybackStatusExecuted), 1)
}
