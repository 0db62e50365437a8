// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the id in the application so the same models run on
// postgres and the sqlite test database.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// StringList stores a string slice as a JSON column so the same models work
// on postgres and the sqlite test database.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return nil
}

// Enums
type SupplierStatus string

const (
	SupplierStatusActive       SupplierStatus = "active"
	SupplierStatusPriceChanged SupplierStatus = "price_changed"
	SupplierStatusOutOfStock   SupplierStatus = "out_of_stock"
	SupplierStatusRemoved      SupplierStatus = "removed"
)

// IsTerminal reports whether the status admits no further transitions.
// A removed listing only comes back through an explicit re-import.
func (s SupplierStatus) IsTerminal() bool {
	return s == SupplierStatusRemoved
}

type AutomationAction string

const (
	ActionPriceUpdate    AutomationAction = "price_update"
	ActionAutoHeal       AutomationAction = "auto_heal"
	ActionProductRemoved AutomationAction = "product_removed"
)

type SupplierPlatform string

const (
	PlatformAliExpress SupplierPlatform = "aliexpress"
	PlatformAlibaba    SupplierPlatform = "alibaba"
	PlatformCJDrop     SupplierPlatform = "cjdropshipping"
	PlatformOther      SupplierPlatform = "other"
)

type AlertStatus string

const (
	AlertStatusUnread AlertStatus = "unread"
	AlertStatusRead   AlertStatus = "read"
)

type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "low"
	AlertPriorityMedium AlertPriority = "medium"
	AlertPriorityHigh   AlertPriority = "high"
)
