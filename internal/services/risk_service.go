// internal/services/risk_service.go
package services

import (
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// RiskService derives the 0-100 risk score predicting listing failure. The
// score blends three components, weighted by configuration (weights sum to
// 1.0): transition recency/frequency, price volatility and supplier rating.
type RiskService struct {
	db  *gorm.DB
	cfg config.MonitoringConfig
}

func NewRiskService(db *gorm.DB, cfg config.MonitoringConfig) *RiskService {
	return &RiskService{db: db, cfg: cfg}
}

// RiskResult is the recomputed insight. The caller persists it as part of
// the pipeline's atomic write.
type RiskResult struct {
	Score              float64
	PredictedRemovalAt *time.Time
	AnalyzedAt         time.Time
}

// Score recomputes the product's risk from the trailing window. It only
// reads; the caller applies the result via ApplyTo.
func (s *RiskService) Score(product *models.Product, now time.Time) (RiskResult, error) {
	windowStart := now.Add(-time.Duration(s.cfg.RiskWindowDays) * 24 * time.Hour)

	transitionComp, err := s.transitionComponent(product, windowStart, now)
	if err != nil {
		return RiskResult{}, err
	}

	volatilityComp, err := s.volatilityComponent(product, windowStart)
	if err != nil {
		return RiskResult{}, err
	}

	ratingComp := ratingComponent(product.Supplier.SupplierRating)

	score := 100 * (s.cfg.TransitionWeight*transitionComp +
		s.cfg.VolatilityWeight*volatilityComp +
		s.cfg.RatingWeight*ratingComp)
	score = clamp(score, 0, 100)

	result := RiskResult{Score: score, AnalyzedAt: now}
	result.PredictedRemovalAt = s.predictRemoval(product, score, now)

	return result, nil
}

// ApplyTo writes the result into the insight, rotating the previous run so
// the next scoring pass can compute the trend slope.
func (r RiskResult) ApplyTo(insight *models.AIInsight) {
	prevScore := insight.RiskScore
	insight.PreviousScore = &prevScore
	insight.PreviousAnalyzedAt = insight.LastAnalyzedAt
	insight.RiskScore = r.Score
	insight.PredictedRemovalAt = r.PredictedRemovalAt
	at := r.AnalyzedAt
	insight.LastAnalyzedAt = &at
}

// transitionComponent weighs transitions into out_of_stock/removed inside the
// window, each decaying exponentially with age. The sum saturates towards 1
// so a burst of recent failures cannot overflow the component.
func (s *RiskService) transitionComponent(product *models.Product, windowStart, now time.Time) (float64, error) {
	var transitions []models.StatusTransition
	err := s.db.
		Where("product_id = ? AND observed_at >= ?", product.ID, windowStart).
		Where("to_status IN ?", []models.SupplierStatus{models.SupplierStatusOutOfStock, models.SupplierStatusRemoved}).
		Find(&transitions).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load transitions: %w", err)
	}

	var sum float64
	halfLife := s.cfg.RiskDecayHalfLife.Hours()
	for _, tr := range transitions {
		age := now.Sub(tr.ObservedAt).Hours()
		if age < 0 {
			age = 0
		}
		weight := math.Exp(-math.Ln2 * age / halfLife)
		if tr.ToStatus == models.SupplierStatusRemoved {
			weight *= 2
		}
		sum += weight
	}

	return 1 - math.Exp(-sum), nil
}

// volatilityComponent is the normalized standard deviation of the price
// deltas observed in the window, relative to the current price.
func (s *RiskService) volatilityComponent(product *models.Product, windowStart time.Time) (float64, error) {
	var observations []models.SupplierObservation
	err := s.db.
		Where("product_id = ? AND observed_at >= ? AND price_delta IS NOT NULL", product.ID, windowStart).
		Find(&observations).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load observations: %w", err)
	}

	if len(observations) < 2 {
		return 0, nil
	}

	deltas := make([]float64, 0, len(observations))
	for _, obs := range observations {
		if obs.PriceDelta.Valid {
			deltas = append(deltas, obs.PriceDelta.Decimal.InexactFloat64())
		}
	}
	if len(deltas) < 2 {
		return 0, nil
	}

	var mean float64
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))

	price := product.Supplier.CurrentPrice.InexactFloat64()
	if price <= 0 {
		return 0, nil
	}

	return clamp(math.Sqrt(variance)/price, 0, 1), nil
}

// ratingComponent inverts the 0-5 supplier rating: the lower the rating the
// higher the risk. An unrated supplier sits at the neutral midpoint.
func ratingComponent(rating float64) float64 {
	if rating <= 0 {
		return 0.5
	}
	return clamp(1-rating/5, 0, 1)
}

// predictRemoval extrapolates when the risk trend would reach 100. A date is
// estimated only above the high-risk threshold and only on a rising trend;
// otherwise the prediction is cleared.
func (s *RiskService) predictRemoval(product *models.Product, score float64, now time.Time) *time.Time {
	if score < s.cfg.HighRiskThreshold {
		return nil
	}

	insight := product.Insight
	if insight.LastAnalyzedAt == nil {
		return nil
	}

	elapsed := now.Sub(*insight.LastAnalyzedAt)
	if elapsed <= 0 {
		return nil
	}

	slope := (score - insight.RiskScore) / elapsed.Hours() // risk points per hour
	if slope <= 0 {
		return nil
	}

	hoursTo100 := (100 - score) / slope
	predicted := now.Add(time.Duration(hoursTo100 * float64(time.Hour)))
	return &predicted
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
