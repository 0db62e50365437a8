// internal/handlers/monitor.go
package handlers

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dropsight/dropsight-backend/internal/services"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

// MonitorHandler is the intake surface of the engine: observations from the
// external fetcher and the manual force re-evaluate trigger. Both return
// accepted/rejected synchronously and complete asynchronously.
type MonitorHandler struct {
	monitorService *services.MonitorService
	productService *services.ProductService
}

type ObservationRequest struct {
	Price      float64   `json:"price"`
	InStock    bool      `json:"in_stock"`
	Reachable  bool      `json:"reachable"`
	ObservedAt time.Time `json:"observed_at" validate:"required"`
}

func NewMonitorHandler(monitorService *services.MonitorService, productService *services.ProductService) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		productService: productService,
	}
}

// POST /products/:id/observations
func (h *MonitorHandler) SubmitObservation(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid product id", nil)
		return
	}

	product, err := h.productService.GetProduct(productID, ownerID)
	if err != nil {
		utils.NotFoundResponse(c, "product")
		return
	}

	var req ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "invalid request body", err.Error())
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(err))
		return
	}

	// Price must be finite and non-negative before it becomes a decimal.
	if math.IsNaN(req.Price) || math.IsInf(req.Price, 0) || req.Price < 0 {
		utils.UnprocessableResponse(c, "observation price must be a finite, non-negative number")
		return
	}

	// A replay of an already-processed timestamp is a no-op, acknowledged
	// without touching the queue.
	if last := product.Supplier.LastObservedAt; last != nil && !req.ObservedAt.After(*last) {
		utils.SuccessResponse(c, gin.H{"product_id": productID, "observed_at": req.ObservedAt, "duplicate": true})
		return
	}

	obs := services.Observation{
		Price:      decimal.NewFromFloat(req.Price),
		InStock:    req.InStock,
		Reachable:  req.Reachable,
		ObservedAt: req.ObservedAt,
	}

	if err := h.monitorService.SubmitObservation(productID, obs); err != nil {
		utils.ServiceUnavailableResponse(c, err.Error())
		return
	}

	utils.AcceptedResponse(c, gin.H{"product_id": productID, "observed_at": req.ObservedAt})
}

// POST /products/:id/reevaluate
func (h *MonitorHandler) Reevaluate(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid product id", nil)
		return
	}

	if _, err := h.productService.GetProduct(productID, ownerID); err != nil {
		utils.NotFoundResponse(c, "product")
		return
	}

	if err := h.monitorService.Reevaluate(productID); err != nil {
		utils.ServiceUnavailableResponse(c, err.Error())
		return
	}

	utils.AcceptedResponse(c, gin.H{"product_id": productID})
}
