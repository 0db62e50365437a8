// internal/handlers/ops.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dropsight/dropsight-backend/internal/models"
	"github.com/dropsight/dropsight-backend/internal/services"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

type OpsHandler struct {
	opsService   *services.OpsService
	alertService *services.AlertService
}

func NewOpsHandler(opsService *services.OpsService, alertService *services.AlertService) *OpsHandler {
	return &OpsHandler{opsService: opsService, alertService: alertService}
}

// GET /ops/review-queue
func (h *OpsHandler) GetReviewQueue(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	products, total, err := h.opsService.ReviewQueue(params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(products, total, params)
	utils.PaginatedResponse(c, result)
}

// POST /ops/review/:id/resolve
func (h *OpsHandler) ResolveReview(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid product id", nil)
		return
	}

	if err := h.opsService.ResolveReview(productID); err != nil {
		utils.ConflictResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, gin.H{"product_id": productID, "resolved": true})
}

// GET /ops/alerts
func (h *OpsHandler) GetAlerts(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	filter := services.AlertFilter{PaginationParams: params}

	if status := c.Query("status"); status != "" {
		alertStatus := models.AlertStatus(status)
		filter.Status = &alertStatus
	}

	if priority := c.Query("priority"); priority != "" {
		alertPriority := models.AlertPriority(priority)
		filter.Priority = &alertPriority
	}

	filter.Type = c.Query("type")

	alerts, total, err := h.opsService.ListAlerts(filter)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(alerts, total, params)
	utils.PaginatedResponse(c, result)
}

// POST /ops/alerts/:id/read
func (h *OpsHandler) MarkAlertRead(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid alert id", nil)
		return
	}

	if err := h.alertService.MarkRead(alertID); err != nil {
		utils.ConflictResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, gin.H{"alert_id": alertID, "read": true})
}

// GET /ops/stats
func (h *OpsHandler) GetStats(c *gin.Context) {
	stats, err := h.opsService.GetStats()
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, stats)
}
