// internal/services/buyback_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/database"
	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/utils"
)

// PriceSource quotes one asset in USD.
type PriceSource interface {
	GetPrice(ctx context.Context) (models.PriceQuote, error)
}

// BuybackService batches fee cuts and spends them on market buys. Nothing here ever
// fails a paying request.
type BuybackService struct {
	db      *gorm.DB
	cfg     config.BuybackConfig
	native  PriceSource
	swapper Swapper
	metrics *metrics.Metrics
	queue   chan uuid.UUID

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewBuybackService(db *gorm.DB, cfg config.BuybackConfig, native PriceSource, swapper Swapper, m *metrics.Metrics) *BuybackService {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &BuybackService{
		db:      db,
		cfg:     cfg,
		native:  native,
		swapper: swapper,
		metrics: m,
		queue:   make(chan uuid.UUID, cfg.QueueSize),
	}
}

// Enqueue records a contribution and hands it to the consumer without blocking.
// A repeated source reference is a no-op.
func (s *BuybackService) Enqueue(ctx context.Context, sourceReference string, amountUSD decimal.Decimal) error {
	if !amountUSD.IsPositive() {
		return nil
	}

	contribution := &models.BuybackContribution{
		SourceReference: sourceReference,
		AmountUSD:       amountUSD,
		EnqueuedAt:      time.Now(),
		Status:          models.BuybackStatusQueued,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_reference"}}, DoNothing: true}).
		Create(contribution)
	if res.Error != nil {
		return fmt.Errorf("failed to record buyback contribution: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.metrics.BuybackEnqueued()
	select {
	case s.queue <- contribution.ID:
	default:
		logrus.WithField("reference", sourceReference).Warn("Buyback queue full, contribution left for the next sweep")
	}
	return nil
}

// Start runs the consumer until ctx is cancelled. Queued rows from a previous run are
// picked up first.
func (s *BuybackService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Wait blocks until a started consumer has exited.
func (s *BuybackService) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *BuybackService) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := s.recover(ctx)
	seen := make(map[uuid.UUID]bool, len(batch))
	for _, id := range batch {
		seen[id] = true
	}

	flush := func() {
		for len(batch) > 0 {
			n := len(batch)
			if n > s.cfg.BatchSize {
				n = s.cfg.BatchSize
			}
			s.processBatch(ctx, batch[:n])
			for _, id := range batch[:n] {
				delete(seen, id)
			}
			batch = batch[n:]
			if ctx.Err() != nil {
				return
			}
		}
		batch = nil
	}

	if len(batch) >= s.cfg.BatchSize {
		flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if seen[id] {
				continue
			}
			seen[id] = true
			batch = append(batch, id)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) == 0 {
				batch = s.sweep(ctx, seen)
			}
			flush()
		}
	}
}

// recover loads contributions left queued by a previous process, after returning the
// contributions of batches it left in flight to the queue.
func (s *BuybackService) recover(ctx context.Context) []uuid.UUID {
	s.requeueInterrupted(ctx)

	ids := s.queuedIDs(ctx, time.Time{})
	if len(ids) > 0 {
		logrus.WithField("count", len(ids)).Info("Recovered queued buyback contributions")
	}
	return ids
}

// requeueInterrupted fails every batch still marked batched. Only one consumer runs per
// database, so at startup such a batch belongs to a process that died mid-buy.
func (s *BuybackService) requeueInterrupted(ctx context.Context) {
	var batches []models.BuybackBatch
	if err := s.db.WithContext(ctx).Where("status = ?", models.BuybackStatusBatched).Find(&batches).Error; err != nil {
		logrus.WithError(err).Error("Failed to load interrupted buyback batches")
		return
	}
	for i := range batches {
		s.release(&batches[i], "interrupted before completion")
		logrus.WithFields(logrus.Fields{
			"batch_id":      batches[i].ID,
			"contributions": batches[i].ContributionCount,
		}).Warn("Requeued contributions of an interrupted buyback batch")
	}
}

// sweep picks up rows whose hand-off was dropped because the channel was full.
func (s *BuybackService) sweep(ctx context.Context, seen map[uuid.UUID]bool) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range s.queuedIDs(ctx, time.Now().Add(-s.cfg.FlushInterval)) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *BuybackService) queuedIDs(ctx context.Context, before time.Time) []uuid.UUID {
	query := s.db.WithContext(ctx).Model(&models.BuybackContribution{}).
		Where("status = ?", models.BuybackStatusQueued)
	if !before.IsZero() {
		query = query.Where("enqueued_at < ?", before)
	}

	var ids []uuid.UUID
	if err := query.Order("enqueued_at ASC").Pluck("id", &ids).Error; err != nil {
		logrus.WithError(err).Error("Failed to load queued buyback contributions")
		return nil
	}
	return ids
}

// processBatch claims the contributions, executes one buy with retries and records
// the result.
func (s *BuybackService) processBatch(ctx context.Context, ids []uuid.UUID) {
	batch, err := s.claim(ctx, ids)
	if err != nil {
		logrus.WithError(err).Error("Failed to claim buyback batch")
		return
	}
	if batch == nil {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"batch_id":      batch.ID,
		"contributions": batch.ContributionCount,
		"total_usd":     batch.TotalUSD.String(),
	})

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		batch.Attempts = attempt
		signature, err := s.execute(ctx, batch)
		if err == nil {
			s.finish(batch, models.BuybackStatusExecuted, signature, "")
			log.WithField("signature", signature).Info("Buyback executed")
			return
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Buyback attempt failed")
		if errors.Is(err, ErrBuybackNotConfigured) || attempt == s.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil || !sleepCtx(ctx, s.backoff(attempt)) {
			s.release(batch, "interrupted by shutdown")
			log.Warn("Buyback interrupted, contributions requeued")
			return
		}
	}

	s.finish(batch, models.BuybackStatusFailed, "", lastErr.Error())
	log.WithError(lastErr).Error("Buyback failed")
}

func (s *BuybackService) claim(ctx context.Context, ids []uuid.UUID) (*models.BuybackBatch, error) {
	var batch *models.BuybackBatch
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		candidate := &models.BuybackBatch{
			Status:   models.BuybackStatusBatched,
			TotalUSD: decimal.Zero,
		}
		if err := tx.Create(candidate).Error; err != nil {
			return fmt.Errorf("failed to create buyback batch: %w", err)
		}

		res := tx.Model(&models.BuybackContribution{}).
			Where("id IN ? AND status = ?", ids, models.BuybackStatusQueued).
			Updates(map[string]interface{}{
				"status":   models.BuybackStatusBatched,
				"batch_id": candidate.ID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim contributions: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return tx.Unscoped().Delete(candidate).Error
		}

		var claimed []models.BuybackContribution
		if err := tx.Where("batch_id = ?", candidate.ID).Find(&claimed).Error; err != nil {
			return fmt.Errorf("failed to load claimed contributions: %w", err)
		}
		total := decimal.Zero
		for _, c := range claimed {
			total = total.Add(c.AmountUSD)
		}
		candidate.ContributionCount = len(claimed)
		candidate.TotalUSD = total
		if err := tx.Model(candidate).Updates(map[string]interface{}{
			"contribution_count": candidate.ContributionCount,
			"total_usd":          candidate.TotalUSD,
		}).Error; err != nil {
			return fmt.Errorf("failed to total buyback batch: %w", err)
		}
		batch = candidate
		return nil
	})
	return batch, err
}

func (s *BuybackService) execute(ctx context.Context, batch *models.BuybackBatch) (string, error) {
	if s.swapper == nil {
		return "", ErrBuybackNotConfigured
	}

	quote, err := s.native.GetPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: native price: %v", ErrBuybackFailed, err)
	}
	amount := batch.TotalUSD.DivRound(quote.PriceUSD, 9)
	batch.NativePriceUSD = quote.PriceUSD
	batch.AmountNative = amount

	return s.swapper.Buy(ctx, amount)
}

func (s *BuybackService) finish(batch *models.BuybackBatch, status models.BuybackStatus, signature, lastErr string) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":           status,
		"attempts":         batch.Attempts,
		"native_price_usd": batch.NativePriceUSD,
		"amount_native":    batch.AmountNative,
		"tx_signature":     signature,
		"last_error":       lastErr,
	}
	if status == models.BuybackStatusExecuted {
		updates["executed_at"] = now
	}

	// Recording the outcome must survive shutdown of the consumer context.
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Model(&models.BuybackBatch{}).Where("id = ?", batch.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&models.BuybackContribution{}).
			Where("batch_id = ?", batch.ID).
			Update("status", status).Error
	})
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batch.ID).Error("Failed to record buyback outcome")
	}
	s.metrics.BuybackBatch(string(status))
}

// release returns an interrupted batch's contributions to the queue.
func (s *BuybackService) release(batch *models.BuybackBatch, reason string) {
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Model(&models.BuybackContribution{}).
			Where("batch_id = ?", batch.ID).
			Updates(map[string]interface{}{"status": models.BuybackStatusQueued, "batch_id": nil}).Error; err != nil {
			return err
		}
		return tx.Model(&models.BuybackBatch{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
			"status":     models.BuybackStatusFailed,
			"attempts":   batch.Attempts,
			"last_error": reason,
		}).Error
	})
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batch.ID).Error("Failed to release buyback batch")
	}
}

func (s *BuybackService) backoff(attempt int) time.Duration {
	delay := s.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.cfg.MaxBackoff > 0 && delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if s.cfg.MaxBackoff > 0 && delay > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *BuybackService) Stats(ctx context.Context) (*models.BuybackStats, error) {
	stats := &models.BuybackStats{QueueDepth: len(s.queue)}
	db := s.db.WithContext(ctx)

	counts := []struct {
		status models.BuybackStatus
		dest   *int64
	}{
		{models.BuybackStatusQueued, &stats.Queued},
		{models.BuybackStatusExecuted, &stats.Executed},
		{models.BuybackStatusFailed, &stats.Failed},
	}
	for _, c := range counts {
		if err := db.Model(&models.BuybackContribution{}).Where("status = ?", c.status).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count contributions: %w", err)
		}
	}

	if err := db.Model(&models.BuybackBatch{}).Where("status = ?", models.BuybackStatusExecuted).Count(&stats.ExecutedBatches).Error; err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}
	if err := db.Model(&models.BuybackBatch{}).Where("status = ?", models.BuybackStatusFailed).Count(&stats.FailedBatches).Error; err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}

	var executed []models.BuybackBatch
	if err := db.Select("total_usd").Where("status = ?", models.BuybackStatusExecuted).Find(&executed).Error; err != nil {
		return nil, fmt.Errorf("failed to total executed batches: %w", err)
	}
	stats.ExecutedUSD = decimal.Zero
	for _, b := range executed {
		stats.ExecutedUSD = stats.ExecutedUSD.Add(b.TotalUSD)
	}
	return stats, nil
}

func (s *BuybackService) ListContributions(ctx context.Context, params utils.PaginationParams) ([]models.BuybackContribution, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.BuybackContribution{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contributions: %w", err)
	}

	var contributions []models.BuybackContribution
	query = utils.ApplySort(query, params, []string{"created_at", "enqueued_at", "amount_usd", "status"})
	if err := utils.ApplyPagination(query, params).Find(&contributions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list contributions: %w", err)
	}
	return contributions, total, nil
}

func (s *BuybackService) ListBatches(ctx context.Context, params utils.PaginationParams) ([]models.BuybackBatch, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.BuybackBatch{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	var batches []models.BuybackBatch
	query = utils.ApplySort(query, params, []string{"created_at", "total_usd", "status", "executed_at"})
	if err := utils.ApplyPagination(query, params).Find(&batches).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, total, nil
}
