// internal/services/errors.go
package services

import "errors"

var (
	ErrPaymentRequired        = errors.New("payment required")
	ErrPaymentNotFound        = errors.New("payment not found on ledger yet")
	ErrPaymentMismatched      = errors.New("payment does not cover the expected amount")
	ErrPaymentFailed          = errors.New("payment transaction failed on ledger")
	ErrVerificationInProgress = errors.New("payment verification already in progress")
	ErrChallengeExpired       = errors.New("payment challenge expired")
	ErrInsufficientSettlement = errors.New("settled amount does not cover the requested model")
	ErrOracleUnavailable      = errors.New("token price unavailable")
	ErrInvalidPrice           = errors.New("invalid token price")
	ErrInvalidFee             = errors.New("invalid fee configuration")
	ErrLedgerUnavailable      = errors.New("ledger unavailable")
	ErrUnknownModel           = errors.New("unknown model")
	ErrTaskNotFound           = errors.New("generation task not found")
	ErrBuybackFailed          = errors.New("buyback execution failed")
	ErrBuybackNotConfigured   = errors.New("buyback wallet not configured")
)
