// internal/models/alert.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// OperatorAlert is the operator channel: matcher failures, products flagged
// for manual review and other conditions the engine cannot resolve on its own.
type OperatorAlert struct {
	BaseModel
	Type             string        `json:"type" gorm:"type:varchar(50);not null;index"`
	Title            string        `json:"title" gorm:"size:255;not null"`
	Message          string        `json:"message" gorm:"type:text;not null"`
	Priority         AlertPriority `json:"priority" gorm:"type:varchar(20);default:'medium';index"`
	Status           AlertStatus   `json:"status" gorm:"type:varchar(20);default:'unread';index"`
	RelatedProductID *uuid.UUID    `json:"related_product_id" gorm:"type:uuid;index"`
	ReadAt           *time.Time    `json:"read_at"`
}

const (
	AlertTypeHealFailed    = "heal_failed"
	AlertTypePolicyTimeout = "policy_timeout"
	AlertTypeWriteConflict = "write_conflict"
	AlertTypeManualReview  = "manual_review"
)
