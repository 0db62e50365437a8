// internal/services/policy_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/models"
)

func newPolicyService(db *gorm.DB, searcher CandidateSearcher) *PolicyService {
	cfg := testMonitoringConfig()
	return NewPolicyService(db, NewMatcherService(searcher, cfg), NewAlertService(db), cfg)
}

func replacementCandidate() Candidate {
	return Candidate{
		Title:          "Wireless Earbuds Pro",
		Features:       []string{"bluetooth 5.3", "noise cancelling", "usb-c charging"},
		URL:            "https://supplier.example/listing/replacement",
		Platform:       models.PlatformCJDrop,
		Price:          decimal.NewFromFloat(48),
		SupplierRating: 4.8,
	}
}

func TestDecideTable(t *testing.T) {
	policy := newPolicyService(newTestDB(t), &stubSearcher{})

	cases := []struct {
		name    string
		status  models.SupplierStatus
		risk    float64
		pending bool
		want    Decision
	}{
		{"active", models.SupplierStatusActive, 90, false, DecisionNone},
		{"price changed", models.SupplierStatusPriceChanged, 90, false, DecisionAcceptPrice},
		{"oos low risk", models.SupplierStatusOutOfStock, 40, false, DecisionMonitor},
		{"oos at threshold", models.SupplierStatusOutOfStock, 70, false, DecisionHeal},
		{"oos pending", models.SupplierStatusOutOfStock, 90, true, DecisionSkipPendingHeal},
		{"removed low risk", models.SupplierStatusRemoved, 40, false, DecisionMonitor},
		{"removed high risk", models.SupplierStatusRemoved, 90, false, DecisionHeal},
		{"removed pending", models.SupplierStatusRemoved, 40, true, DecisionSkipPendingHeal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.Decide(tc.status, tc.risk, tc.pending))
		})
	}
}

func TestExecuteHealSwapsSupplier(t *testing.T) {
	db := newTestDB(t)
	policy := newPolicyService(db, &stubSearcher{candidates: []Candidate{replacementCandidate()}})

	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Insight.RiskScore = 85
	})
	oldURL := product.Supplier.URL

	require.NoError(t, policy.Execute(context.Background(), product))

	assert.Equal(t, models.SupplierStatusActive, product.Supplier.Status)
	assert.Equal(t, "https://supplier.example/listing/replacement", product.Supplier.URL)
	assert.False(t, product.Supplier.HealPending)

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.Equal(t, models.SupplierStatusActive, stored.Supplier.Status)
	assert.Equal(t, "https://supplier.example/listing/replacement", stored.Supplier.URL)
	assert.False(t, stored.Supplier.HealPending)

	entries := logEntries(t, db, product.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionAutoHeal, entries[0].Action)
	assert.Equal(t, oldURL, entries[0].OldValue)
	assert.Equal(t, "https://supplier.example/listing/replacement", entries[0].NewValue)
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestExecuteHealNoSuitableReplacement(t *testing.T) {
	db := newTestDB(t)
	policy := newPolicyService(db, &stubSearcher{candidates: []Candidate{
		{Title: "Garden Hose Reel", URL: "https://supplier.example/listing/hose"},
	}})

	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Insight.RiskScore = 85
	})

	require.NoError(t, policy.Execute(context.Background(), product))

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.True(t, stored.NeedsReview)
	assert.False(t, stored.Supplier.HealPending)
	// The failed attempt itself is not an automation action.
	assert.Empty(t, logEntries(t, db, product.ID))

	var alerts []models.OperatorAlert
	require.NoError(t, db.Where("type = ?", models.AlertTypeHealFailed).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].RelatedProductID)
	assert.Equal(t, product.ID, *alerts[0].RelatedProductID)
}

func TestExecuteHealTimeout(t *testing.T) {
	db := newTestDB(t)
	cfg := testMonitoringConfig()
	cfg.PolicyTimeout = 20 * time.Millisecond
	searcher := &stubSearcher{delay: 200 * time.Millisecond, candidates: []Candidate{replacementCandidate()}}
	policy := NewPolicyService(db, NewMatcherService(searcher, cfg), NewAlertService(db), cfg)

	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Insight.RiskScore = 85
	})

	err := policy.Execute(context.Background(), product)
	assert.ErrorIs(t, err, ErrPolicyTimeout)

	var stored models.Product
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	// Cleared so the next scheduled cycle can retry.
	assert.False(t, stored.Supplier.HealPending)
	assert.False(t, stored.NeedsReview)

	var count int64
	require.NoError(t, db.Model(&models.OperatorAlert{}).
		Where("type = ?", models.AlertTypePolicyTimeout).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestExecuteSkipsWhenHealPending(t *testing.T) {
	db := newTestDB(t)
	policy := newPolicyService(db, &stubSearcher{candidates: []Candidate{replacementCandidate()}})

	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Supplier.HealPending = true
		p.Insight.RiskScore = 85
	})

	require.NoError(t, policy.Execute(context.Background(), product))

	assert.Equal(t, models.SupplierStatusOutOfStock, product.Supplier.Status)
	assert.Empty(t, logEntries(t, db, product.ID))
}

func TestExecuteMonitorBelowThreshold(t *testing.T) {
	db := newTestDB(t)
	policy := newPolicyService(db, &stubSearcher{candidates: []Candidate{replacementCandidate()}})

	product := seedProduct(t, db, func(p *models.Product) {
		p.Supplier.Status = models.SupplierStatusOutOfStock
		p.Insight.RiskScore = 40
	})

	require.NoError(t, policy.Execute(context.Background(), product))

	assert.Equal(t, models.SupplierStatusOutOfStock, product.Supplier.Status)
	assert.Empty(t, logEntries(t, db, product.ID))
}
