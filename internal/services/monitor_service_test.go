// internal/services/monitor_service_test.go
package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

func newMonitorService(db *gorm.DB, cfg config.MonitoringConfig, searcher CandidateSearcher) *MonitorService {
	alerts := NewAlertService(db)
	policy := NewPolicyService(db, NewMatcherService(searcher, cfg), alerts, cfg)
	return NewMonitorService(db, cfg, NewIngestService(), NewRiskService(db, cfg), policy, alerts)
}

func priceObservation(price float64, at time.Time) Observation {
	return Observation{
		Price:      decimal.NewFromFloat(price),
		InStock:    true,
		Reachable:  true,
		ObservedAt: at,
	}
}

func TestProcessPriceDrop(t *testing.T) {
	db := newTestDB(t)
	monitor := newMonitorService(db, testMonitoringConfig(), &stubSearcher{})
	product := seedProduct(t, db, nil)

	obs := priceObservation(45, time.Now().UTC())
	require.NoError(t, monitor.Process(context.Background(), product.ID, &obs))

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusPriceChanged, stored.Supplier.Status)
	assert.True(t, stored.Supplier.CurrentPrice.Equal(decimal.NewFromFloat(45)))
	require.True(t, stored.Supplier.PreviousPrice.Valid)
	assert.True(t, stored.Supplier.PreviousPrice.Decimal.Equal(decimal.NewFromFloat(50)))
	require.NotNil(t, stored.Insight.LastAnalyzedAt)
	require.NotNil(t, stored.Supplier.LastObservedAt)

	entries := logEntries(t, db, product.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionPriceUpdate, entries[0].Action)
	assert.Equal(t, "50.00", entries[0].OldValue)
	assert.Equal(t, "45.00", entries[0].NewValue)

	var observations []models.SupplierObservation
	require.NoError(t, db.Where("product_id = ?", product.ID).Find(&observations).Error)
	require.Len(t, observations, 1)
	require.True(t, observations[0].PriceDelta.Valid)
	assert.True(t, observations[0].PriceDelta.Decimal.Equal(decimal.NewFromFloat(-5)))

	var transitions []models.StatusTransition
	require.NoError(t, db.Where("product_id = ?", product.ID).Find(&transitions).Error)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.SupplierStatusActive, transitions[0].FromStatus)
	assert.Equal(t, models.SupplierStatusPriceChanged, transitions[0].ToStatus)
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	monitor := newMonitorService(db, testMonitoringConfig(), &stubSearcher{})
	product := seedProduct(t, db, nil)

	obs := priceObservation(45, time.Now().UTC())
	require.NoError(t, monitor.Process(context.Background(), product.ID, &obs))

	var first models.Product
	require.NoError(t, db.First(&first, "id = ?", product.ID).Error)

	require.NoError(t, monitor.Process(context.Background(), product.ID, &obs))

	var second models.Product
	require.NoError(t, db.First(&second, "id = ?", product.ID).Error)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Supplier.Status, second.Supplier.Status)
	assert.Len(t, logEntries(t, db, product.ID), 1)

	var count int64
	require.NoError(t, db.Model(&models.SupplierObservation{}).
		Where("product_id = ?", product.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessUnreachableStreakRemoves(t *testing.T) {
	db := newTestDB(t)
	monitor := newMonitorService(db, testMonitoringConfig(), &stubSearcher{})
	product := seedProduct(t, db, nil)
	base := time.Now().UTC()

	unreachable := func(at time.Time) *Observation {
		return &Observation{Reachable: false, ObservedAt: at}
	}

	require.NoError(t, monitor.Process(context.Background(), product.ID, unreachable(base)))

	var mid models.Product
	require.NoError(t, db.First(&mid, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusActive, mid.Supplier.Status)
	assert.Equal(t, 1, mid.Supplier.UnreachableStreak)

	require.NoError(t, monitor.Process(context.Background(), product.ID, unreachable(base.Add(time.Minute))))

	var removed models.Product
	require.NoError(t, db.First(&removed, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusRemoved, removed.Supplier.Status)

	entries := logEntries(t, db, product.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionProductRemoved, entries[0].Action)
	assert.Equal(t, "supplier unreachable", entries[0].Details)

	// Terminal: a later healthy-looking observation does not resurrect it.
	healthy := priceObservation(45, base.Add(2*time.Minute))
	require.NoError(t, monitor.Process(context.Background(), product.ID, &healthy))

	var still models.Product
	require.NoError(t, db.First(&still, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusRemoved, still.Supplier.Status)
	assert.Len(t, logEntries(t, db, product.ID), 1)
}

func TestProcessLogSequenceMonotonic(t *testing.T) {
	db := newTestDB(t)
	monitor := newMonitorService(db, testMonitoringConfig(), &stubSearcher{})
	product := seedProduct(t, db, nil)
	base := time.Now().UTC()

	prices := []float64{45, 55, 40}
	for i, price := range prices {
		obs := priceObservation(price, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, monitor.Process(context.Background(), product.ID, &obs))
	}

	entries := logEntries(t, db, product.ID)
	require.Len(t, entries, len(prices))
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
		assert.Equal(t, models.ActionPriceUpdate, entry.Action)
	}
}

// failingProductConfig weights transitions heavily so a stocked-out listing
// with recent removals lands above the heal threshold on rescore.
func failingProductConfig() config.MonitoringConfig {
	cfg := testMonitoringConfig()
	cfg.TransitionWeight = 0.8
	cfg.VolatilityWeight = 0.1
	cfg.RatingWeight = 0.1
	return cfg
}

func seedFailingProduct(t *testing.T, db *gorm.DB) *models.Product {
	t.Helper()
	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Supplier.StockLevel = 0
		p.Supplier.SupplierRating = 0.5
	})
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		seedTransition(t, db, product, models.SupplierStatusRemoved, now.Add(-time.Duration(i+1)*time.Hour))
	}
	return product
}

func TestProcessRescoreTriggersHeal(t *testing.T) {
	db := newTestDB(t)
	searcher := &stubSearcher{candidates: []Candidate{replacementCandidate()}}
	monitor := newMonitorService(db, failingProductConfig(), searcher)
	product := seedFailingProduct(t, db)

	require.NoError(t, monitor.Process(context.Background(), product.ID, nil))

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusActive, stored.Supplier.Status)
	assert.Equal(t, "https://supplier.example/listing/replacement", stored.Supplier.URL)
	assert.False(t, stored.Supplier.HealPending)

	var heals int64
	require.NoError(t, db.Model(&models.AutomationLogEntry{}).
		Where("product_id = ? AND action = ?", product.ID, models.ActionAutoHeal).
		Count(&heals).Error)
	assert.Equal(t, int64(1), heals)
}

func TestProcessConcurrentRunsSingleHeal(t *testing.T) {
	db := newTestDB(t)
	searcher := &stubSearcher{
		candidates: []Candidate{replacementCandidate()},
		delay:      10 * time.Millisecond,
	}
	monitor := newMonitorService(db, failingProductConfig(), searcher)
	product := seedFailingProduct(t, db)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = monitor.Process(context.Background(), product.ID, nil)
		}()
	}
	wg.Wait()

	var heals int64
	require.NoError(t, db.Model(&models.AutomationLogEntry{}).
		Where("product_id = ? AND action = ?", product.ID, models.ActionAutoHeal).
		Count(&heals).Error)
	assert.Equal(t, int64(1), heals)

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusActive, stored.Supplier.Status)
}

func TestSubmitObservationQueueFull(t *testing.T) {
	db := newTestDB(t)
	cfg := testMonitoringConfig()
	cfg.QueueSize = 1
	monitor := newMonitorService(db, cfg, &stubSearcher{})
	product := seedProduct(t, db, nil)

	obs := priceObservation(45, time.Now().UTC())
	require.NoError(t, monitor.SubmitObservation(product.ID, obs))
	assert.Error(t, monitor.SubmitObservation(product.ID, obs))
}

func TestProcessUnknownProductIsNoop(t *testing.T) {
	db := newTestDB(t)
	monitor := newMonitorService(db, testMonitoringConfig(), &stubSearcher{})

	obs := priceObservation(45, time.Now().UTC())
	assert.NoError(t, monitor.Process(context.Background(), models.Product{}.ID, &obs))
}
