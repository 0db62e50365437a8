// internal/services/product_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

type ProductService struct {
	db  *gorm.DB
	cfg config.MonitoringConfig
}

type ImportProductRequest struct {
	Title          string                  `json:"title" validate:"required,min=3,max=255"`
	Description    string                  `json:"description,omitempty"`
	Category       string                  `json:"category" validate:"required"`
	Features       []string                `json:"features,omitempty"`
	Images         []string                `json:"images,omitempty"`
	ImageHashes    []string                `json:"image_hashes,omitempty"`
	ListedPrice    float64                 `json:"listed_price" validate:"required,min=0.01"`
	SupplierURL    string                  `json:"supplier_url" validate:"required,url"`
	Platform       models.SupplierPlatform `json:"platform,omitempty"`
	SupplierPrice  float64                 `json:"supplier_price" validate:"required,min=0"`
	StockLevel     int                     `json:"stock_level" validate:"min=0"`
	SupplierRating float64                 `json:"supplier_rating" validate:"min=0,max=5"`
}

type ReimportProductRequest struct {
	SupplierURL    string                  `json:"supplier_url" validate:"required,url"`
	Platform       models.SupplierPlatform `json:"platform,omitempty"`
	SupplierPrice  float64                 `json:"supplier_price" validate:"required,min=0"`
	StockLevel     int                     `json:"stock_level" validate:"min=0"`
	SupplierRating float64                 `json:"supplier_rating" validate:"min=0,max=5"`
}

type ProductSearchParams struct {
	utils.PaginationParams
	Status      *models.SupplierStatus `json:"status,omitempty"`
	NeedsReview *bool                  `json:"needs_review,omitempty"`
	RiskMin     *float64               `json:"risk_min,omitempty"`
}

func NewProductService(db *gorm.DB, cfg config.MonitoringConfig) *ProductService {
	return &ProductService{db: db, cfg: cfg}
}

// ImportProduct creates a product from its first supplier import. The
// lifecycle starts active with the baseline risk score; every later change
// flows through the monitoring pipeline.
func (s *ProductService) ImportProduct(ownerID uuid.UUID, req *ImportProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	platform := req.Platform
	if platform == "" {
		platform = models.PlatformOther
	}

	product := &models.Product{
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Features:    req.Features,
		Images:      req.Images,
		ImageHashes: req.ImageHashes,
		ListedPrice: decimal.NewFromFloat(req.ListedPrice),
		Supplier: models.SupplierLink{
			URL:            req.SupplierURL,
			Platform:       platform,
			Status:         models.SupplierStatusActive,
			CurrentPrice:   decimal.NewFromFloat(req.SupplierPrice),
			StockLevel:     req.StockLevel,
			SupplierRating: req.SupplierRating,
		},
		Insight: models.AIInsight{
			RiskScore: s.cfg.BaselineRisk,
		},
		Monitored: true,
	}

	if err := s.db.Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to import product: %w", err)
	}

	return product, nil
}

func (s *ProductService) GetProduct(id uuid.UUID, ownerID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := s.db.First(&product, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("product not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &product, nil
}

func (s *ProductService) SearchProducts(ownerID uuid.UUID, params ProductSearchParams) ([]models.Product, int64, error) {
	query := s.db.Model(&models.Product{}).Where("owner_id = ?", ownerID)

	if params.Status != nil {
		query = query.Where("supplier_status = ?", *params.Status)
	}

	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}

	if params.NeedsReview != nil {
		query = query.Where("needs_review = ?", *params.NeedsReview)
	}

	if params.RiskMin != nil {
		query = query.Where("insight_risk_score >= ?", *params.RiskMin)
	}

	if params.Search != "" {
		searchTerm := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", searchTerm, searchTerm)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "title", "listed_price", "insight_risk_score", "supplier_status"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch products: %w", err)
	}

	return products, total, nil
}

// GetAutomationLog returns the append-only audit trail, oldest first.
func (s *ProductService) GetAutomationLog(id uuid.UUID, ownerID uuid.UUID, params utils.PaginationParams) ([]models.AutomationLogEntry, int64, error) {
	if _, err := s.GetProduct(id, ownerID); err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&models.AutomationLogEntry{}).Where("product_id = ?", id)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	var entries []models.AutomationLogEntry
	if err := utils.ApplyPagination(query.Order("seq ASC"), params).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch automation log: %w", err)
	}

	return entries, total, nil
}

// ReimportProduct resets a removed listing with a fresh supplier link.
// Removal is terminal for the state machine; this explicit re-import is the
// only way back, and it restarts monitoring from the active baseline.
func (s *ProductService) ReimportProduct(id uuid.UUID, ownerID uuid.UUID, req *ReimportProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	product, err := s.GetProduct(id, ownerID)
	if err != nil {
		return nil, err
	}

	if product.Supplier.Status != models.SupplierStatusRemoved {
		return nil, errors.New("only removed products can be re-imported")
	}

	platform := req.Platform
	if platform == "" {
		platform = models.PlatformOther
	}

	now := time.Now().UTC()
	err = bumpProduct(s.db, product, map[string]interface{}{
		"supplier_url":                 req.SupplierURL,
		"supplier_platform":            platform,
		"supplier_status":              models.SupplierStatusActive,
		"supplier_current_price":       decimal.NewFromFloat(req.SupplierPrice),
		"supplier_previous_price":      nil,
		"supplier_stock_level":         req.StockLevel,
		"supplier_supplier_rating":     req.SupplierRating,
		"supplier_unreachable_streak":  0,
		"supplier_heal_pending":        false,
		"supplier_last_checked_at":     now,
		"supplier_last_observed_at":    nil,
		"insight_risk_score":           s.cfg.BaselineRisk,
		"insight_previous_score":       nil,
		"insight_previous_analyzed_at": nil,
		"insight_predicted_removal_at": nil,
		"insight_last_analyzed_at":     nil,
		"needs_review":                 false,
		"monitored":                    true,
	})
	if err != nil {
		return nil, err
	}

	return s.GetProduct(id, ownerID)
}
