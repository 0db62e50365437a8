// internal/models/product.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SupplierLink is the supplier-side view of a product. It is owned by the
// Product row (embedded columns, supplier_ prefix) so that a conditional
// write on the product covers the whole aggregate.
//
// Status, CurrentPrice, PreviousPrice, StockLevel and UnreachableStreak are
// written only by the state machine; handlers expose them read-only.
type SupplierLink struct {
	URL               string              `json:"url" gorm:"size:2048"`
	Platform          SupplierPlatform    `json:"platform" gorm:"type:varchar(30);default:'other'"`
	Status            SupplierStatus      `json:"status" gorm:"type:varchar(20);default:'active';index"`
	CurrentPrice      decimal.Decimal     `json:"current_price" gorm:"type:decimal(12,2)"`
	PreviousPrice     decimal.NullDecimal `json:"previous_price" gorm:"type:decimal(12,2)"`
	StockLevel        int                 `json:"stock_level" gorm:"default:0"`
	SupplierRating    float64             `json:"supplier_rating" gorm:"type:decimal(3,2);default:0"`
	UnreachableStreak int                 `json:"unreachable_streak" gorm:"default:0"`
	HealPending       bool                `json:"heal_pending" gorm:"default:false"`
	LastCheckedAt     *time.Time          `json:"last_checked_at"`
	LastObservedAt    *time.Time          `json:"last_observed_at"`
}

// AIInsight carries the derived risk signal. RiskScore is recomputed only by
// the risk engine; between runs it is stale but valid.
type AIInsight struct {
	RiskScore          float64    `json:"risk_score" gorm:"default:50"`
	PreviousScore      *float64   `json:"previous_score,omitempty"`
	PreviousAnalyzedAt *time.Time `json:"previous_analyzed_at,omitempty"`
	PredictedRemovalAt *time.Time `json:"predicted_removal_at,omitempty"`
	LastAnalyzedAt     *time.Time `json:"last_analyzed_at,omitempty"`
}

type Product struct {
	BaseModel
	OwnerID     uuid.UUID       `json:"owner_id" gorm:"type:uuid;not null;index"`
	Title       string          `json:"title" gorm:"size:255;not null"`
	Description string          `json:"description" gorm:"type:text"`
	Category    string          `json:"category" gorm:"size:100;index"`
	Features    StringList      `json:"features,omitempty" gorm:"type:text"`
	Images      StringList      `json:"images,omitempty" gorm:"type:text"`
	ImageHashes StringList      `json:"image_hashes,omitempty" gorm:"type:text"`
	ListedPrice decimal.Decimal `json:"listed_price" gorm:"type:decimal(12,2)"`

	Supplier SupplierLink `json:"monitored_supplier" gorm:"embedded;embeddedPrefix:supplier_"`
	Insight  AIInsight    `json:"ai_insights" gorm:"embedded;embeddedPrefix:insight_"`

	Monitored   bool `json:"monitored" gorm:"default:true;index"`
	NeedsReview bool `json:"needs_review" gorm:"default:false;index"`

	// Version backs the optimistic per-product write cycle. Every pipeline
	// run updates WHERE id = ? AND version = ?.
	Version int64 `json:"-" gorm:"default:0"`

	AutomationLog []AutomationLogEntry `json:"automation_log,omitempty" gorm:"foreignKey:ProductID"`
}

// AutomationLogEntry is one record of the append-only audit trail. Entries
// are never updated or deleted; Seq is monotonic per product.
type AutomationLogEntry struct {
	ID         uuid.UUID        `json:"id" gorm:"type:uuid;primary_key"`
	ProductID  uuid.UUID        `json:"product_id" gorm:"type:uuid;not null;index:idx_automation_log_product_seq,unique"`
	Seq        int64            `json:"seq" gorm:"not null;index:idx_automation_log_product_seq,unique"`
	Action     AutomationAction `json:"action" gorm:"type:varchar(30);not null;index"`
	OldValue   string           `json:"old_value,omitempty" gorm:"size:2048"`
	NewValue   string           `json:"new_value,omitempty" gorm:"size:2048"`
	Details    string           `json:"details,omitempty" gorm:"type:text"`
	RecordedAt time.Time        `json:"recorded_at" gorm:"not null;index"`
}

// SupplierObservation is the processed-observation ledger. The unique
// (product_id, observed_at) index makes replays a no-op, and the window of
// rows feeds price volatility scoring.
type SupplierObservation struct {
	ID         uuid.UUID           `json:"id" gorm:"type:uuid;primary_key"`
	ProductID  uuid.UUID           `json:"product_id" gorm:"type:uuid;not null;index:idx_observations_product_time,unique"`
	ObservedAt time.Time           `json:"observed_at" gorm:"not null;index:idx_observations_product_time,unique"`
	Price      decimal.Decimal     `json:"price" gorm:"type:decimal(12,2)"`
	PriceDelta decimal.NullDecimal `json:"price_delta" gorm:"type:decimal(12,2)"`
	InStock    bool                `json:"in_stock"`
	Reachable  bool                `json:"reachable"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (e *AutomationLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (o *SupplierObservation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// StatusTransition records each state-machine edge for risk scoring.
type StatusTransition struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	ProductID  uuid.UUID      `json:"product_id" gorm:"type:uuid;not null;index"`
	FromStatus SupplierStatus `json:"from_status" gorm:"type:varchar(20);not null"`
	ToStatus   SupplierStatus `json:"to_status" gorm:"type:varchar(20);not null;index"`
	ObservedAt time.Time      `json:"observed_at" gorm:"not null;index"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (t *StatusTransition) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
