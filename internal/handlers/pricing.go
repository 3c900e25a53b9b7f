// internal/handlers/pricing.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

type PricingHandler struct {
	pricingService *services.PricingService
}

func NewPricingHandler(pricingService *services.PricingService) *PricingHandler {
	return &PricingHandler{
		pricingService: pricingService,
	}
}

// GET /models
func (h *PricingHandler) ListModels(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"models":     h.pricingService.Catalog().List(),
		"feePercent": h.pricingService.FeePercent(),
	})
}

// GET /pricing/quote
func (h *PricingHandler) Quote(c *gin.Context) {
	modelID := c.Query("modelId")
	if modelID == "" {
		utils.BadRequestResponse(c, "modelId is required", nil)
		return
	}

	info, split, err := h.pricingService.QuoteModel(c.Request.Context(), modelID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"model":    info,
		"feeSplit": split,
	})
}
