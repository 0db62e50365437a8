// internal/services/ingest_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropsight/dropsight-backend/internal/models"
)

func TestNormalizeComputesDelta(t *testing.T) {
	ingest := NewIngestService()
	product := &models.Product{Supplier: models.SupplierLink{
		CurrentPrice: decimal.NewFromFloat(50),
		StockLevel:   3,
	}}

	sig, err := ingest.Normalize(product, Observation{
		Price:      decimal.NewFromFloat(45),
		InStock:    true,
		Reachable:  true,
		ObservedAt: time.Now().UTC(),
	})

	require.NoError(t, err)
	require.True(t, sig.PriceDelta.Valid)
	assert.True(t, sig.PriceDelta.Decimal.Equal(decimal.NewFromFloat(-5)))
	assert.True(t, sig.WasInStock)
	assert.True(t, sig.InStock)
}

func TestNormalizeNoPriorPrice(t *testing.T) {
	ingest := NewIngestService()
	product := &models.Product{}

	sig, err := ingest.Normalize(product, Observation{
		Price:      decimal.NewFromFloat(20),
		InStock:    true,
		Reachable:  true,
		ObservedAt: time.Now().UTC(),
	})

	require.NoError(t, err)
	assert.False(t, sig.PriceDelta.Valid)
}

func TestNormalizeRejectsMissingTimestamp(t *testing.T) {
	ingest := NewIngestService()

	_, err := ingest.Normalize(&models.Product{}, Observation{
		Price:     decimal.NewFromFloat(20),
		Reachable: true,
	})

	assert.ErrorIs(t, err, ErrInvalidObservation)
}

func TestNormalizeRejectsNegativePrice(t *testing.T) {
	ingest := NewIngestService()

	_, err := ingest.Normalize(&models.Product{}, Observation{
		Price:      decimal.NewFromFloat(-1),
		Reachable:  true,
		ObservedAt: time.Now().UTC(),
	})

	assert.ErrorIs(t, err, ErrInvalidObservation)
}

func TestNormalizeUnreachableSkipsPriceValidation(t *testing.T) {
	ingest := NewIngestService()

	sig, err := ingest.Normalize(&models.Product{}, Observation{
		Price:      decimal.NewFromFloat(-1),
		Reachable:  false,
		ObservedAt: time.Now().UTC(),
	})

	require.NoError(t, err)
	assert.False(t, sig.Reachable)
	assert.False(t, sig.PriceDelta.Valid)
}

func TestNormalizeDuplicateObservation(t *testing.T) {
	ingest := NewIngestService()
	seen := time.Now().UTC()
	product := &models.Product{Supplier: models.SupplierLink{LastObservedAt: &seen}}

	obs := Observation{
		Price:      decimal.NewFromFloat(20),
		InStock:    true,
		Reachable:  true,
		ObservedAt: seen,
	}
	_, err := ingest.Normalize(product, obs)
	assert.ErrorIs(t, err, ErrDuplicateObservation)

	// Late-arriving history is a replay too.
	obs.ObservedAt = seen.Add(-time.Hour)
	_, err = ingest.Normalize(product, obs)
	assert.ErrorIs(t, err, ErrDuplicateObservation)

	obs.ObservedAt = seen.Add(time.Hour)
	_, err = ingest.Normalize(product, obs)
	assert.NoError(t, err)
}
