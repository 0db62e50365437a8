// internal/services/alert_service.go
package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/models"
)

// AlertService is the operator channel. Conditions the engine cannot resolve
// on its own (failed heals, recurring write conflicts, manual-review flags)
// land here for a human to pick up.
type AlertService struct {
	db *gorm.DB
}

func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

func (s *AlertService) Create(alertType string, priority models.AlertPriority, title, message string, productID *uuid.UUID) {
	alert := &models.OperatorAlert{
		Type:             alertType,
		Title:            title,
		Message:          message,
		Priority:         priority,
		Status:           models.AlertStatusUnread,
		RelatedProductID: productID,
	}

	if err := s.db.Create(alert).Error; err != nil {
		logrus.WithError(err).Error("Failed to create operator alert")
		return
	}

	logrus.WithFields(logrus.Fields{
		"type":       alertType,
		"priority":   priority,
		"product_id": productID,
	}).Warn(title)
}

func (s *AlertService) HealFailed(product *models.Product, reason error) {
	s.Create(
		models.AlertTypeHealFailed,
		models.AlertPriorityHigh,
		"Auto-heal failed",
		fmt.Sprintf("No replacement supplier found for '%s': %v. Product flagged for manual review.", product.Title, reason),
		&product.ID,
	)
}

func (s *AlertService) PolicyTimedOut(product *models.Product) {
	s.Create(
		models.AlertTypePolicyTimeout,
		models.AlertPriorityMedium,
		"Policy invocation timed out",
		fmt.Sprintf("Automation policy for '%s' exceeded its deadline; the attempt will be retried on the next scheduled cycle.", product.Title),
		&product.ID,
	)
}

func (s *AlertService) WriteConflict(productID uuid.UUID) {
	s.Create(
		models.AlertTypeWriteConflict,
		models.AlertPriorityMedium,
		"Recurring write conflict",
		"Two pipeline runs conflicted twice in a row for the same product; the observation stays unprocessed and will be retried.",
		&productID,
	)
}

func (s *AlertService) MarkRead(id uuid.UUID) error {
	result := s.db.Model(&models.OperatorAlert{}).
		Where("id = ? AND status = ?", id, models.AlertStatusUnread).
		Updates(map[string]interface{}{
			"status":  models.AlertStatusRead,
			"read_at": gorm.Expr("CURRENT_TIMESTAMP"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark alert read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert not found or already read")
	}
	return nil
}
