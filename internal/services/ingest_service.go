// internal/services/ingest_service.go
package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dropsight/dropsight-backend/internal/models"
)

// Observation is one external read of a supplier listing.
type Observation struct {
	Price      decimal.Decimal `json:"price"`
	InStock    bool            `json:"in_stock"`
	Reachable  bool            `json:"reachable"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Signal is the canonical form the state machine consumes. PriceDelta is
// null when the product has no prior price.
type Signal struct {
	Price      decimal.Decimal
	PriceDelta decimal.NullDecimal
	WasInStock bool
	InStock    bool
	Reachable  bool
	ObservedAt time.Time
}

// IngestService normalizes raw supplier observations. It has no side effects
// beyond validation; persistence happens later in the pipeline.
type IngestService struct{}

func NewIngestService() *IngestService {
	return &IngestService{}
}

// Normalize validates an observation against the product's current supplier
// state and produces a Signal. Returns ErrInvalidObservation for malformed
// input and ErrDuplicateObservation when observed_at was already processed.
func (s *IngestService) Normalize(product *models.Product, obs Observation) (Signal, error) {
	if obs.ObservedAt.IsZero() {
		return Signal{}, fmt.Errorf("%w: missing observed_at", ErrInvalidObservation)
	}

	if obs.Reachable && obs.Price.IsNegative() {
		return Signal{}, fmt.Errorf("%w: negative price %s", ErrInvalidObservation, obs.Price)
	}

	// Dedupe by observed_at per product. Anything at or before the last
	// processed observation is a replay; transitions are order-dependent so
	// late-arriving history is dropped rather than applied out of order.
	if last := product.Supplier.LastObservedAt; last != nil && !obs.ObservedAt.After(*last) {
		logrus.WithFields(logrus.Fields{
			"product_id":  product.ID,
			"observed_at": obs.ObservedAt,
		}).Debug("Duplicate observation discarded")
		return Signal{}, ErrDuplicateObservation
	}

	sig := Signal{
		Price:      obs.Price,
		WasInStock: product.Supplier.StockLevel > 0,
		InStock:    obs.InStock,
		Reachable:  obs.Reachable,
		ObservedAt: obs.ObservedAt,
	}

	// A prior price exists once the link was imported with one or a prior
	// observation recorded one.
	if obs.Reachable {
		if !product.Supplier.CurrentPrice.IsZero() || product.Supplier.LastObservedAt != nil {
			sig.PriceDelta = decimal.NullDecimal{
				Decimal: obs.Price.Sub(product.Supplier.CurrentPrice),
				Valid:   true,
			}
		}
	}

	return sig, nil
}
