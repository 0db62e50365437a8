// internal/services/services_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.AutomationLogEntry{},
		&models.SupplierObservation{},
		&models.StatusTransition{},
		&models.OperatorAlert{},
	))

	return db
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		PriceTolerance:       decimal.NewFromFloat(0.01),
		UnreachableThreshold: 2,
		TransitionWeight:     0.5,
		VolatilityWeight:     0.3,
		RatingWeight:         0.2,
		RiskWindowDays:       30,
		RiskDecayHalfLife:    168 * time.Hour,
		BaselineRisk:         50,
		HealRiskThreshold:    70,
		HighRiskThreshold:    80,
		MinSimilarity:        0.6,
		PolicyTimeout:        2 * time.Second,
		RescoreCron:          "@daily",
		WorkerCount:          2,
		QueueSize:            16,
	}
}

func seedProduct(t *testing.T, db *gorm.DB, mutate func(*models.Product)) *models.Product {
	t.Helper()

	product := &models.Product{
		OwnerID:     uuid.New(),
		Title:       "Wireless Earbuds Pro",
		Description: "Bluetooth earbuds with charging case",
		Category:    "electronics",
		Features:    models.StringList{"bluetooth 5.3", "noise cancelling", "usb-c charging"},
		ListedPrice: decimal.NewFromFloat(79.99),
		Supplier: models.SupplierLink{
			URL:            "https://supplier.example/listing/123",
			Platform:       models.PlatformAliExpress,
			Status:         models.SupplierStatusActive,
			CurrentPrice:   decimal.NewFromFloat(50),
			StockLevel:     10,
			SupplierRating: 4.5,
		},
		Insight:   models.AIInsight{RiskScore: 50},
		Monitored: true,
	}
	if mutate != nil {
		mutate(product)
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

// stubSearcher is a canned candidate search collaborator.
type stubSearcher struct {
	candidates []Candidate
	err        error
	delay      time.Duration
}

func (s *stubSearcher) Search(ctx context.Context, product *models.Product) ([]Candidate, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func logEntries(t *testing.T, db *gorm.DB, productID uuid.UUID) []models.AutomationLogEntry {
	t.Helper()
	var entries []models.AutomationLogEntry
	require.NoError(t, db.Where("product_id = ?", productID).Order("seq ASC").Find(&entries).Error)
	return entries
}
