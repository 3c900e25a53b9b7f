// internal/handlers/generation.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/payper-backend/internal/models"
	"github.com/javajoker/payper-backend/internal/services"
	"github.com/javajoker/payper-backend/internal/utils"
)

type GenerationHandler struct {
	paymentService    *services.PaymentService
	generationService *services.GenerationService
	realm             string
}

func NewGenerationHandler(paymentService *services.PaymentService, generationService *services.GenerationService, realm string) *GenerationHandler {
	return &GenerationHandler{
		paymentService:    paymentService,
		generationService: generationService,
		realm:             realm,
	}
}

type taskResponse struct {
	State        models.TaskState `json:"state"`
	Status       models.TaskState `json:"status"`
	TaskID       string           `json:"taskId"`
	ModelID      string           `json:"modelId"`
	ResultURLs   []string         `json:"resultUrls,omitempty"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

func newTaskResponse(task *models.GenerationTask) taskResponse {
	return taskResponse{
		State:        task.State,
		Status:       task.State,
		TaskID:       task.TaskID,
		ModelID:      task.ModelID,
		ResultURLs:   task.ResultURLs,
		ErrorCode:    task.ErrorCode,
		ErrorMessage: task.ErrorMessage,
	}
}

// POST /generate
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req services.GenerateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	task, challenge, err := h.paymentService.Generate(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentRequired) && challenge != nil:
			utils.PaymentRequiredResponse(c, challenge.WWWAuthenticate(h.realm), "PAYMENT_REQUIRED", "Payment required", challenge)
		case errors.Is(err, services.ErrPaymentNotFound) && challenge != nil:
			utils.PaymentRequiredResponse(c, challenge.WWWAuthenticate(h.realm), "PAYMENT_NOT_FOUND", "Payment not found on ledger yet, retry shortly", challenge)
		default:
			writeServiceError(c, err)
		}
		return
	}

	utils.SuccessResponse(c, newTaskResponse(task))
}

// GET /generate/:taskId
func (h *GenerationHandler) GetTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		utils.BadRequestResponse(c, "Task ID is required", nil)
		return
	}

	task, err := h.generationService.Poll(c.Request.Context(), taskID, c.Query("modelId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, utils.APIResponse{Success: true, Data: newTaskResponse(task)})
}
