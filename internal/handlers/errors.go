// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/providers"
	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

// writeServiceError maps service errors onto the response envelope.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentNotFound):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_NOT_FOUND", "Payment not found on ledger yet, retry shortly", gin.H{"retryable": true})
	case errors.Is(err, services.ErrPaymentMismatched):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_MISMATCHED", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentFailed):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_FAILED", err.Error(), nil)
	case errors.Is(err, services.ErrChallengeExpired):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "CHALLENGE_EXPIRED", "Payment challenge expired, request a new one", nil)
	case errors.Is(err, services.ErrInsufficientSettlement):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "INSUFFICIENT_SETTLEMENT", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentRequired):
		utils.ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_REQUIRED", "Payment required", nil)
	case errors.Is(err, services.ErrVerificationInProgress):
		utils.ConflictResponse(c, err.Error())
	case errors.Is(err, providers.ErrInvalidOptions):
		utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_OPTIONS", err.Error(), nil)
	case errors.Is(err, services.ErrUnknownModel), errors.Is(err, providers.ErrUnknownModel):
		utils.ErrorResponse(c, http.StatusBadRequest, "UNKNOWN_MODEL", err.Error(), nil)
	case errors.Is(err, services.ErrTaskNotFound):
		utils.NotFoundResponse(c, "Task")
	case errors.Is(err, providers.ErrProviderUnavailable):
		utils.BadGatewayResponse(c, "")
	case errors.Is(err, services.ErrOracleUnavailable), errors.Is(err, services.ErrInvalidPrice):
		utils.ServiceUnavailableResponse(c, "ORACLE_UNAVAILABLE", "Token price unavailable")
	case errors.Is(err, services.ErrLedgerUnavailable):
		utils.ServiceUnavailableResponse(c, "LEDGER_UNAVAILABLE", "Ledger unavailable")
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return false
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
