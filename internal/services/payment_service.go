// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/metrics"
	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/utils"
)

// SettlementChecker asks the ledger whether a reference paid at least expectedRaw.
type SettlementChecker interface {
	Verify(ctx context.Context, reference string, expectedRaw int64) (Verification, error)
}

// TaskStarter is the part of the orchestrator the payment flow drives.
type TaskStarter interface {
	Validate(req models.GenerationRequest) (models.ModelInfo, error)
	Start(ctx context.Context, req models.GenerationRequest, settlementReference string) (*models.GenerationTask, error)
	FindTask(ctx context.Context, taskID string) (*models.GenerationTask, error)
}

// ContributionQueue receives the fee cut of every verified settlement.
type ContributionQueue interface {
	Enqueue(ctx context.Context, sourceReference string, amountUSD decimal.Decimal) error
}

type PaymentService struct {
	db        *gorm.DB
	config    *config.Config
	pricing   *PricingService
	verifier  SettlementChecker
	pending   PendingStore
	generator TaskStarter
	buyback   ContributionQueue
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewPaymentService(
	db *gorm.DB,
	cfg *config.Config,
	pricing *PricingService,
	verifier SettlementChecker,
	pending PendingStore,
	generator TaskStarter,
	buyback ContributionQueue,
	m *metrics.Metrics,
) *PaymentService {
	return &PaymentService{
		db:        db,
		config:    cfg,
		pricing:   pricing,
		verifier:  verifier,
		pending:   pending,
		generator: generator,
		buyback:   buyback,
		metrics:   m,
		now:       time.Now,
	}
}

// Request/Response types
type GenerateRequest struct {
	ModelID             string                 `json:"modelId" validate:"required,model_id"`
	Prompt              string                 `json:"prompt" validate:"required,min=1,max=4000"`
	Type                models.GenerationType  `json:"type" validate:"omitempty,oneof=image video"`
	Options             map[string]interface{} `json:"options,omitempty"`
	SettlementReference string                 `json:"settlementReference,omitempty" validate:"omitempty,solana_signature"`
	GenerationID        string                 `json:"generationId,omitempty" validate:"omitempty,max=64"`
}

func (r GenerateRequest) GenerationRequest() models.GenerationRequest {
	return models.GenerationRequest{
		ModelID: r.ModelID,
		Type:    r.Type,
		Prompt:  r.Prompt,
		Options: r.Options,
	}
}

type VerifyPaymentRequest struct {
	Reference    string          `json:"reference" validate:"required,solana_signature"`
	GenerationID string          `json:"generationId,omitempty" validate:"omitempty,max=64"`
	AmountUSD    decimal.Decimal `json:"amountUSD"`
}

// SettleRequest names a reference and what it is supposed to pay for. Request is nil
// when the caller only wants the payment checked.
type SettleRequest struct {
	Reference    string
	GenerationID string
	Request      *models.GenerationRequest
	AmountUSD    decimal.Decimal
}

// Challenge is the 402 body that tells a client how much to pay and where.
type Challenge struct {
	GenerationID      string          `json:"generationId"`
	Amount            int64           `json:"amount"`
	RawAmount         int64           `json:"rawAmount"`
	AmountUSD         decimal.Decimal `json:"amountUSD"`
	Currency          string          `json:"currency"`
	Network           string          `json:"network"`
	CollectionAccount string          `json:"collectionAccount"`
	Mint              string          `json:"mint"`
	Decimals          int32           `json:"decimals"`
	FeeSplit          models.FeeSplit `json:"feeSplit"`
	ExpiresAt         time.Time       `json:"expiresAt"`
	Retryable         bool            `json:"retryable,omitempty"`
}

// WWWAuthenticate renders the challenge as a header value.
func (c *Challenge) WWWAuthenticate(realm string) string {
	return fmt.Sprintf(`Bearer realm=%q, amount=%q, currency=%q, network=%q, generationId=%q`,
		realm, strconv.FormatInt(c.Amount, 10), c.Currency, c.Network, c.GenerationID)
}

// Challenge quotes a request and stores it as pending until paid or expired.
func (s *PaymentService) Challenge(ctx context.Context, req models.GenerationRequest) (*Challenge, error) {
	info, err := s.generator.Validate(req)
	if err != nil {
		return nil, err
	}
	split, err := s.pricing.Quote(ctx, info.PriceUSD)
	if err != nil {
		return nil, err
	}

	raw, err := rawAmount(split, s.config.Solana.TokenDecimals)
	if err != nil {
		return nil, err
	}

	now := s.now()
	generationID, err := utils.GenerateGenerationID(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate generation id: %w", err)
	}
	if req.Type == "" {
		req.Type = info.Type
	}

	pending := &models.PendingPayment{
		GenerationID: generationID,
		Request:      req,
		AmountUSD:    info.PriceUSD,
		Split:        split,
		RawAmount:    raw,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.Payment.PendingTTL),
	}
	if err := s.pending.Put(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to store pending payment: %w", err)
	}

	s.metrics.ChallengeIssued(info.ID)
	logrus.WithFields(logrus.Fields{
		"generation_id": generationID,
		"model":         info.ID,
		"amount":        split.TotalTokens,
		"amount_usd":    info.PriceUSD.String(),
	}).Info("Payment challenge issued")

	return s.challengeFor(pending), nil
}

// PendingChallenge rebuilds the challenge of a still-pending generation.
func (s *PaymentService) PendingChallenge(ctx context.Context, generationID string) (*Challenge, error) {
	if generationID == "" {
		return nil, nil
	}
	pending, err := s.pending.Get(ctx, generationID)
	if err != nil || pending == nil {
		return nil, err
	}
	return s.challengeFor(pending), nil
}

func (s *PaymentService) challengeFor(p *models.PendingPayment) *Challenge {
	return &Challenge{
		GenerationID:      p.GenerationID,
		Amount:            p.Split.TotalTokens,
		RawAmount:         p.RawAmount,
		AmountUSD:         p.AmountUSD,
		Currency:          s.config.Solana.TokenSymbol,
		Network:           s.config.Solana.Network,
		CollectionAccount: s.config.Solana.CollectionWallet,
		Mint:              s.config.Solana.TokenMint,
		Decimals:          s.config.Solana.TokenDecimals,
		FeeSplit:          p.Split,
		ExpiresAt:         p.ExpiresAt,
	}
}

// Settle claims a reference and verifies it against the ledger. A verified reference
// is returned as is on every later call; the buyback contribution is queued once.
func (s *PaymentService) Settle(ctx context.Context, req SettleRequest) (*models.SettlementRecord, error) {
	var pending *models.PendingPayment
	if req.GenerationID != "" {
		p, err := s.pending.Get(ctx, req.GenerationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load pending payment: %w", err)
		}
		pending = p
	}

	request := req.Request
	if pending != nil {
		request = &pending.Request
	}

	record, err := s.claim(ctx, req, request)
	if err != nil {
		return nil, err
	}
	if record.Outcome == models.SettlementOutcomeVerified {
		return record, nil
	}

	log := logrus.WithFields(logrus.Fields{
		"reference":     req.Reference,
		"generation_id": req.GenerationID,
	})

	amountUSD, expectedRaw, err := s.expectation(ctx, pending, request, req.AmountUSD)
	if err != nil {
		s.release(record)
		return nil, err
	}
	if record.Outcome == models.SettlementOutcomeMismatched {
		return s.rejudge(ctx, log, record, pending, request, amountUSD, expectedRaw)
	}

	verification, err := s.verifier.Verify(ctx, req.Reference, expectedRaw)
	if err != nil {
		s.release(record)
		log.WithError(err).Warn("Ledger lookup failed, settlement released")
		return nil, fmt.Errorf("%w: %w", ErrPaymentNotFound, err)
	}
	s.metrics.SettlementOutcome(string(verification.Outcome))

	if verification.Outcome == models.SettlementOutcomeNotFound {
		s.release(record)
		return nil, ErrPaymentNotFound
	}

	now := s.now()
	updates := map[string]interface{}{
		"outcome":             verification.Outcome,
		"detail":              verification.Detail,
		"amount_usd":          amountUSD,
		"expected_raw_amount": expectedRaw,
		"observed_raw_amount": verification.ObservedRaw,
	}
	if verification.Outcome == models.SettlementOutcomeVerified {
		updates["verified_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome = ? AND claim_token = ?", record.ID, models.SettlementOutcomeVerifying, record.ClaimToken).
		Updates(updates)
	if res.Error != nil {
		s.release(record)
		return nil, fmt.Errorf("failed to record settlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another instance took the claim over; its result wins.
		return nil, ErrVerificationInProgress
	}

	record.Outcome = verification.Outcome
	record.Detail = verification.Detail
	record.AmountUSD = amountUSD
	record.ExpectedRawAmount = expectedRaw
	record.ObservedRawAmount = verification.ObservedRaw

	switch verification.Outcome {
	case models.SettlementOutcomeFailed:
		log.WithField("detail", verification.Detail).Warn("Payment transaction failed")
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, verification.Detail)
	case models.SettlementOutcomeMismatched:
		log.WithField("detail", verification.Detail).Warn("Payment does not match challenge")
		return nil, fmt.Errorf("%w: %s", ErrPaymentMismatched, verification.Detail)
	}

	record.VerifiedAt = &now
	log.WithFields(logrus.Fields{
		"observed_raw": verification.ObservedRaw,
		"expected_raw": expectedRaw,
	}).Info("Payment verified")

	s.settled(ctx, log, record, pending)
	return record, nil
}

// rejudge checks an underpaid reference against the current caller's expectation.
// The observed amount is a ledger fact; the expectation it was judged against is not,
// so a mismatch never blocks a later caller the transfer does cover.
func (s *PaymentService) rejudge(ctx context.Context, log *logrus.Entry, record *models.SettlementRecord, pending *models.PendingPayment, request *models.GenerationRequest, amountUSD decimal.Decimal, expectedRaw int64) (*models.SettlementRecord, error) {
	if record.ObservedRawAmount < expectedRaw {
		return nil, fmt.Errorf("%w: transferred %d, expected at least %d", ErrPaymentMismatched, record.ObservedRawAmount, expectedRaw)
	}

	now := s.now()
	updates := map[string]interface{}{
		"outcome":             models.SettlementOutcomeVerified,
		"detail":              "",
		"amount_usd":          amountUSD,
		"expected_raw_amount": expectedRaw,
		"verified_at":         now,
	}
	if pending != nil {
		updates["generation_id"] = pending.GenerationID
	}
	if request != nil && record.ModelID == "" {
		updates["model_id"] = request.ModelID
		updates["request"] = request.JSONB()
	}
	res := s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome = ?", record.ID, models.SettlementOutcomeMismatched).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to record settlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.FindSettlement(ctx, record.Reference)
		if err != nil {
			return nil, err
		}
		if current.Outcome == models.SettlementOutcomeVerified {
			return current, nil
		}
		return nil, ErrVerificationInProgress
	}
	s.metrics.SettlementOutcome(string(models.SettlementOutcomeVerified))

	record.Outcome = models.SettlementOutcomeVerified
	record.Detail = ""
	record.AmountUSD = amountUSD
	record.ExpectedRawAmount = expectedRaw
	record.VerifiedAt = &now
	if pending != nil {
		record.GenerationID = pending.GenerationID
	}
	if request != nil && record.ModelID == "" {
		record.ModelID = request.ModelID
		record.Request = request.JSONB()
	}
	log.WithFields(logrus.Fields{
		"observed_raw": record.ObservedRawAmount,
		"expected_raw": expectedRaw,
	}).Info("Payment verified against a new expectation")

	s.settled(ctx, log, record, pending)
	return record, nil
}

// settled runs the side effects of a reference's first verification.
func (s *PaymentService) settled(ctx context.Context, log *logrus.Entry, record *models.SettlementRecord, pending *models.PendingPayment) {
	if pending != nil {
		if _, err := s.pending.Delete(ctx, pending.GenerationID); err != nil {
			log.WithError(err).Warn("Failed to delete pending payment")
		}
	}

	// Log error but don't fail the paid request
	if s.buyback != nil {
		cut := record.AmountUSD.Mul(s.pricing.FeePercent()).Div(hundred)
		if err := s.buyback.Enqueue(context.WithoutCancel(ctx), record.Reference, cut); err != nil {
			log.WithError(err).Error("Failed to enqueue buyback contribution")
		}
	}
}

// claim inserts the reference in verifying state, or resolves an existing row.
func (s *PaymentService) claim(ctx context.Context, req SettleRequest, request *models.GenerationRequest) (*models.SettlementRecord, error) {
	now := s.now()
	record := &models.SettlementRecord{
		Reference:    req.Reference,
		GenerationID: req.GenerationID,
		AmountUSD:    decimal.Zero,
		Outcome:      models.SettlementOutcomeVerifying,
		ClaimToken:   uuid.NewString(),
		ClaimedAt:    now,
	}
	if request != nil {
		record.ModelID = request.ModelID
		record.Request = request.JSONB()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim settlement: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return record, nil
	}

	existing, err := s.FindSettlement(ctx, req.Reference)
	if err != nil {
		return nil, err
	}

	switch existing.Outcome {
	case models.SettlementOutcomeVerified:
		return existing, nil
	case models.SettlementOutcomeFailed:
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, existing.Detail)
	case models.SettlementOutcomeMismatched:
		return existing, nil
	}

	if now.Sub(existing.ClaimedAt) < s.config.Payment.ClaimTimeout {
		return nil, ErrVerificationInProgress
	}

	// Stale claim from a crashed verifier
	token := uuid.NewString()
	updates := map[string]interface{}{
		"claim_token": token,
		"claimed_at":  now,
	}
	if request != nil && existing.ModelID == "" {
		updates["model_id"] = request.ModelID
		updates["request"] = request.JSONB()
	}
	res = s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome = ? AND claim_token = ?", existing.ID, models.SettlementOutcomeVerifying, existing.ClaimToken).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to take over settlement claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVerificationInProgress
	}

	logrus.WithField("reference", req.Reference).Warn("Took over stale settlement claim")
	existing.ClaimToken = token
	existing.ClaimedAt = now
	if request != nil && existing.ModelID == "" {
		existing.ModelID = request.ModelID
		existing.Request = request.JSONB()
	}
	return existing, nil
}

// expectation returns the USD charge and the minimum raw amount the transfer must carry.
// Without a pending challenge the model is re-quoted and the tolerance absorbs price drift.
func (s *PaymentService) expectation(ctx context.Context, pending *models.PendingPayment, request *models.GenerationRequest, amountUSD decimal.Decimal) (decimal.Decimal, int64, error) {
	if pending != nil {
		return pending.AmountUSD, pending.RawAmount, nil
	}

	if request != nil {
		info, err := s.generator.Validate(*request)
		if err != nil {
			return decimal.Zero, 0, err
		}
		amountUSD = info.PriceUSD
	}
	if !amountUSD.IsPositive() {
		return decimal.Zero, 0, ErrChallengeExpired
	}

	split, err := s.pricing.Quote(ctx, amountUSD)
	if err != nil {
		return decimal.Zero, 0, err
	}
	tolerance := decimal.NewFromFloat(s.config.Payment.AmountTolerancePercent)
	quoted, err := rawAmount(split, s.config.Solana.TokenDecimals)
	if err != nil {
		return decimal.Zero, 0, err
	}
	raw := decimal.NewFromInt(quoted)
	expected := raw.Mul(hundred.Sub(tolerance)).Div(hundred).Floor().IntPart()
	return amountUSD, expected, nil
}

// release drops a claim that produced no answer so the reference can be retried.
func (s *PaymentService) release(record *models.SettlementRecord) {
	err := s.db.Unscoped().
		Where("id = ? AND outcome = ? AND claim_token = ?", record.ID, models.SettlementOutcomeVerifying, record.ClaimToken).
		Delete(&models.SettlementRecord{}).Error
	if err != nil {
		logrus.WithError(err).WithField("reference", record.Reference).Error("Failed to release settlement claim")
	}
}

// Start runs the generation a verified settlement paid for, at most once. A failed
// provider call frees the settlement so the same reference can start again.
func (s *PaymentService) Start(ctx context.Context, record *models.SettlementRecord, req *models.GenerationRequest) (*models.GenerationTask, error) {
	if record.Outcome != models.SettlementOutcomeVerified {
		return nil, ErrPaymentRequired
	}
	if taskID := record.StartedTaskID(); taskID != "" {
		return s.generator.FindTask(ctx, taskID)
	}

	request := models.GenerationRequestFromJSONB(record.Request)
	if req != nil && req.ModelID != "" {
		request = *req
	}
	info, err := s.generator.Validate(request)
	if err != nil {
		return nil, err
	}
	if info.PriceUSD.GreaterThan(record.AmountUSD) {
		if err := s.raiseSettledAmount(ctx, record, info); err != nil {
			return nil, err
		}
	}

	token, err := s.acquireStart(ctx, record)
	if err != nil {
		return nil, err
	}
	if token == "" {
		// Started by someone else
		current, err := s.FindSettlement(ctx, record.Reference)
		if err != nil {
			return nil, err
		}
		if current.StartedTaskID() == "" {
			return nil, ErrVerificationInProgress
		}
		return s.generator.FindTask(ctx, current.TaskID)
	}

	task, err := s.generator.Start(ctx, request, record.Reference)
	if err != nil {
		reset := s.db.Model(&models.SettlementRecord{}).
			Where("id = ? AND task_id = ?", record.ID, token).
			UpdateColumn("task_id", "")
		if reset.Error != nil {
			logrus.WithError(reset.Error).WithField("reference", record.Reference).Error("Failed to reset settlement start")
		}
		return nil, err
	}

	err = s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.SettlementRecord{}).
		Where("id = ? AND task_id = ?", record.ID, token).
		Updates(map[string]interface{}{
			"task_id":  task.TaskID,
			"model_id": request.ModelID,
			"request":  request.JSONB(),
		}).Error
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"reference": record.Reference,
			"task_id":   task.TaskID,
		}).Error("Failed to link task to settlement")
	}
	record.TaskID = task.TaskID
	return task, nil
}

// raiseSettledAmount lifts a settlement's USD amount to a model's price when the observed
// transfer covers a fresh quote for it. The amount a reference was first verified for
// comes from its caller and may understate the payment.
func (s *PaymentService) raiseSettledAmount(ctx context.Context, record *models.SettlementRecord, info models.ModelInfo) error {
	_, expectedRaw, err := s.expectation(ctx, nil, nil, info.PriceUSD)
	if err != nil {
		return err
	}
	if record.ObservedRawAmount < expectedRaw {
		return fmt.Errorf("%w: %s costs %s, settled %s", ErrInsufficientSettlement, info.ID, info.PriceUSD.String(), record.AmountUSD.String())
	}

	err = s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ?", record.ID).
		UpdateColumn("amount_usd", info.PriceUSD).Error
	if err != nil {
		return fmt.Errorf("failed to update settled amount: %w", err)
	}
	record.AmountUSD = info.PriceUSD
	return nil
}

// acquireStart swaps an empty (or abandoned) task id for a start token. An empty
// token means another caller holds the start.
func (s *PaymentService) acquireStart(ctx context.Context, record *models.SettlementRecord) (string, error) {
	now := s.now()
	token := fmt.Sprintf("%s%d:%s", models.StartTokenPrefix, now.UnixNano(), uuid.NewString())

	res := s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome = ? AND (task_id = '' OR task_id IS NULL)", record.ID, models.SettlementOutcomeVerified).
		UpdateColumn("task_id", token)
	if res.Error != nil {
		return "", fmt.Errorf("failed to reserve generation start: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return token, nil
	}

	current, err := s.FindSettlement(ctx, record.Reference)
	if err != nil {
		return "", err
	}
	if !startTokenExpired(current.TaskID, now, s.config.Payment.ClaimTimeout) {
		return "", nil
	}

	res = s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND task_id = ?", record.ID, current.TaskID).
		UpdateColumn("task_id", token)
	if res.Error != nil {
		return "", fmt.Errorf("failed to reserve generation start: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return token, nil
	}
	return "", nil
}

func startTokenExpired(taskID string, now time.Time, timeout time.Duration) bool {
	if !strings.HasPrefix(taskID, models.StartTokenPrefix) {
		return false
	}
	stamp := strings.TrimPrefix(taskID, models.StartTokenPrefix)
	if i := strings.IndexByte(stamp, ':'); i >= 0 {
		stamp = stamp[:i]
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return true
	}
	return now.Sub(time.Unix(0, nanos)) >= timeout
}

// Generate is the whole pay-per-generation exchange. Without a reference it returns a
// challenge with ErrPaymentRequired; a reference not yet on the ledger returns the
// pending challenge (if any) marked retryable with ErrPaymentNotFound.
func (s *PaymentService) Generate(ctx context.Context, req GenerateRequest) (*models.GenerationTask, *Challenge, error) {
	request := req.GenerationRequest()

	if req.SettlementReference == "" {
		challenge, err := s.Challenge(ctx, request)
		if err != nil {
			return nil, nil, err
		}
		return nil, challenge, ErrPaymentRequired
	}

	if req.GenerationID == "" {
		if _, err := s.generator.Validate(request); err != nil {
			return nil, nil, err
		}
	}

	record, err := s.Settle(ctx, SettleRequest{
		Reference:    req.SettlementReference,
		GenerationID: req.GenerationID,
		Request:      &request,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			challenge, cerr := s.PendingChallenge(ctx, req.GenerationID)
			if cerr != nil {
				logrus.WithError(cerr).Warn("Failed to rebuild pending challenge")
			}
			if challenge != nil {
				challenge.Retryable = true
			}
			return nil, challenge, err
		}
		return nil, nil, err
	}

	var override *models.GenerationRequest
	if req.GenerationID == "" || record.ModelID == "" {
		override = &request
	}
	task, err := s.Start(ctx, record, override)
	if err != nil {
		return nil, nil, err
	}
	return task, nil, nil
}

// Verify settles a reference without starting a generation.
func (s *PaymentService) Verify(ctx context.Context, req VerifyPaymentRequest) (*models.SettlementRecord, error) {
	return s.Settle(ctx, SettleRequest{
		Reference:    req.Reference,
		GenerationID: req.GenerationID,
		AmountUSD:    req.AmountUSD,
	})
}

func (s *PaymentService) FindSettlement(ctx context.Context, reference string) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	if err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
		}
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	return &record, nil
}

func (s *PaymentService) ListSettlements(ctx context.Context, params utils.PaginationParams) ([]models.SettlementRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SettlementRecord{})
	if params.Status != "" {
		query = query.Where("outcome = ?", params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count settlements: %w", err)
	}

	var records []models.SettlementRecord
	query = utils.ApplySort(query, params, []string{"created_at", "claimed_at", "verified_at", "amount_usd", "outcome"})
	if err := utils.ApplyPagination(query, params).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list settlements: %w", err)
	}
	return records, total, nil
}
