// internal/services/ops_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/models"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

// OpsService backs the operator dashboard: the manual-review queue, the
// alert feed and fleet-level monitoring stats.
type OpsService struct {
	db      *gorm.DB
	monitor *MonitorService
}

type MonitoringStats struct {
	TotalProducts    int64   `json:"total_products"`
	ActiveProducts   int64   `json:"active_products"`
	PriceChanged     int64   `json:"price_changed"`
	OutOfStock       int64   `json:"out_of_stock"`
	Removed          int64   `json:"removed"`
	NeedsReview      int64   `json:"needs_review"`
	HighRisk         int64   `json:"high_risk"`
	AverageRiskScore float64 `json:"average_risk_score"`
	UnreadAlerts     int64   `json:"unread_alerts"`
	AutomationEvents int64   `json:"automation_events"`
}

type AlertFilter struct {
	utils.PaginationParams
	Status   *models.AlertStatus   `json:"status,omitempty"`
	Priority *models.AlertPriority `json:"priority,omitempty"`
	Type     string                `json:"type,omitempty"`
}

func NewOpsService(db *gorm.DB, monitor *MonitorService) *OpsService {
	return &OpsService{db: db, monitor: monitor}
}

// ReviewQueue lists products flagged for manual review, riskiest first.
func (s *OpsService) ReviewQueue(params utils.PaginationParams) ([]models.Product, int64, error) {
	query := s.db.Model(&models.Product{}).Where("needs_review = ?", true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count review queue: %w", err)
	}

	var products []models.Product
	err := utils.ApplyPagination(query.Order("insight_risk_score DESC"), params).Find(&products).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch review queue: %w", err)
	}

	return products, total, nil
}

// ResolveReview clears the manual-review flag and enqueues a fresh policy
// pass so the product re-enters automated monitoring straight away.
func (s *OpsService) ResolveReview(productID uuid.UUID) error {
	var product models.Product
	if err := s.db.First(&product, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("product not found")
		}
		return fmt.Errorf("database error: %w", err)
	}

	if !product.NeedsReview {
		return errors.New("product is not flagged for review")
	}

	if err := bumpProduct(s.db, &product, map[string]interface{}{
		"needs_review": false,
	}); err != nil {
		return err
	}

	if s.monitor != nil {
		if err := s.monitor.Reevaluate(productID); err != nil {
			return fmt.Errorf("review resolved but re-evaluation not enqueued: %w", err)
		}
	}

	return nil
}

func (s *OpsService) ListAlerts(filter AlertFilter) ([]models.OperatorAlert, int64, error) {
	query := s.db.Model(&models.OperatorAlert{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	var alerts []models.OperatorAlert
	err := utils.ApplyPagination(query.Order("created_at DESC"), filter.PaginationParams).Find(&alerts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	return alerts, total, nil
}

func (s *OpsService) GetStats() (*MonitoringStats, error) {
	stats := &MonitoringStats{}

	counts := []struct {
		dest   *int64
		status models.SupplierStatus
	}{
		{&stats.ActiveProducts, models.SupplierStatusActive},
		{&stats.PriceChanged, models.SupplierStatusPriceChanged},
		{&stats.OutOfStock, models.SupplierStatusOutOfStock},
		{&stats.Removed, models.SupplierStatusRemoved},
	}

	if err := s.db.Model(&models.Product{}).Count(&stats.TotalProducts).Error; err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	for _, c := range counts {
		if err := s.db.Model(&models.Product{}).Where("supplier_status = ?", c.status).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}
	}

	s.db.Model(&models.Product{}).Where("needs_review = ?", true).Count(&stats.NeedsReview)
	s.db.Model(&models.Product{}).Where("insight_risk_score >= ?", 80).Count(&stats.HighRisk)
	s.db.Model(&models.Product{}).Select("COALESCE(AVG(insight_risk_score), 0)").Scan(&stats.AverageRiskScore)
	s.db.Model(&models.OperatorAlert{}).Where("status = ?", models.AlertStatusUnread).Count(&stats.UnreadAlerts)
	s.db.Model(&models.AutomationLogEntry{}).Count(&stats.AutomationEvents)

	return stats, nil
}
