// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

type AdminHandler struct {
	paymentService *services.PaymentService
	buybackService *services.BuybackService
	pricingService *services.PricingService
}

func NewAdminHandler(paymentService *services.PaymentService, buybackService *services.BuybackService, pricingService *services.PricingService) *AdminHandler {
	return &AdminHandler{
		paymentService: paymentService,
		buybackService: buybackService,
		pricingService: pricingService,
	}
}

// GET /admin/settlements
func (h *AdminHandler) GetSettlements(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	records, total, err := h.paymentService.ListSettlements(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(records, total, params))
}

// GET /admin/buybacks
func (h *AdminHandler) GetBuybacks(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	batches, total, err := h.buybackService.ListBatches(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(batches, total, params))
}

// GET /admin/buybacks/contributions
func (h *AdminHandler) GetContributions(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	contributions, total, err := h.buybackService.ListContributions(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(contributions, total, params))
}

// GET /admin/buybacks/stats
func (h *AdminHandler) GetBuybackStats(c *gin.Context) {
	stats, err := h.buybackService.Stats(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// POST /admin/pricing/refresh
func (h *AdminHandler) RefreshPrice(c *gin.Context) {
	quote, err := h.pricingService.RefreshPrice(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	subject, _ := utils.GetSubjectFromContext(c)
	logrus.WithFields(logrus.Fields{
		"subject": subject,
		"price":   quote.PriceUSD.String(),
		"source":  quote.Source,
	}).Info("Token price refreshed")

	utils.SuccessResponse(c, gin.H{
		"quote": quote,
	})
}
