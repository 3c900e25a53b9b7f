// internal/handlers/payment.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /payments/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req services.VerifyPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	record, err := h.paymentService.Verify(c.Request.Context(), req)
	if err != nil {
		var code string
		switch {
		case errors.Is(err, services.ErrPaymentNotFound):
			code = "PAYMENT_NOT_FOUND"
		case errors.Is(err, services.ErrPaymentMismatched):
			code = "PAYMENT_MISMATCHED"
		case errors.Is(err, services.ErrPaymentFailed):
			code = "PAYMENT_FAILED"
		case errors.Is(err, services.ErrChallengeExpired):
			code = "CHALLENGE_EXPIRED"
		default:
			writeServiceError(c, err)
			return
		}
		utils.ErrorResponse(c, http.StatusPaymentRequired, code, err.Error(), gin.H{
			"paid":      false,
			"retryable": code == "PAYMENT_NOT_FOUND",
		})
		return
	}

	utils.SuccessResponse(c, gin.H{
		"paid":       true,
		"reference":  record.Reference,
		"amountUSD":  record.AmountUSD,
		"verifiedAt": record.VerifiedAt,
		"taskId":     record.StartedTaskID(),
	})
}
