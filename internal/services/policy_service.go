// internal/services/policy_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// Decision is the tagged outcome of the policy table: one variant per
// (status, risk bracket, pending-heal) combination so the dispatch stays
// exhaustive and testable.
type Decision int

const (
	// DecisionNone: active listing, nothing to do.
	DecisionNone Decision = iota
	// DecisionAcceptPrice: price change already applied by the state
	// machine, log already written.
	DecisionAcceptPrice
	// DecisionMonitor: degraded but below the heal threshold, keep watching.
	DecisionMonitor
	// DecisionHeal: invoke the replacement matcher.
	DecisionHeal
	// DecisionSkipPendingHeal: a heal attempt is already in flight.
	DecisionSkipPendingHeal
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionAcceptPrice:
		return "accept_price"
	case DecisionMonitor:
		return "monitor"
	case DecisionHeal:
		return "heal"
	case DecisionSkipPendingHeal:
		return "skip_pending_heal"
	}
	return "unknown"
}

// PolicyService turns (status, risk score, pending flag) into automation
// actions. It is stateless between invocations: every decision derives from
// the persisted product alone.
type PolicyService struct {
	db      *gorm.DB
	matcher *MatcherService
	alerts  *AlertService
	cfg     config.MonitoringConfig
}

func NewPolicyService(db *gorm.DB, matcher *MatcherService, alerts *AlertService, cfg config.MonitoringConfig) *PolicyService {
	return &PolicyService{db: db, matcher: matcher, alerts: alerts, cfg: cfg}
}

// Decide implements the decision table.
func (s *PolicyService) Decide(status models.SupplierStatus, riskScore float64, healPending bool) Decision {
	switch status {
	case models.SupplierStatusActive:
		return DecisionNone
	case models.SupplierStatusPriceChanged:
		return DecisionAcceptPrice
	case models.SupplierStatusOutOfStock:
		if riskScore < s.cfg.HealRiskThreshold {
			return DecisionMonitor
		}
		if healPending {
			return DecisionSkipPendingHeal
		}
		return DecisionHeal
	case models.SupplierStatusRemoved:
		if healPending {
			return DecisionSkipPendingHeal
		}
		if riskScore < s.cfg.HealRiskThreshold {
			return DecisionMonitor
		}
		return DecisionHeal
	}
	return DecisionNone
}

// Execute evaluates and carries out the decision for the product's current
// persisted state. Matching failures are handled locally (alert + review
// flag); only persistence failures propagate.
func (s *PolicyService) Execute(ctx context.Context, product *models.Product) error {
	decision := s.Decide(product.Supplier.Status, product.Insight.RiskScore, product.Supplier.HealPending)

	logrus.WithFields(logrus.Fields{
		"product_id": product.ID,
		"status":     product.Supplier.Status,
		"risk_score": product.Insight.RiskScore,
		"decision":   decision.String(),
	}).Debug("Policy decision")

	if decision != DecisionHeal {
		return nil
	}

	return s.heal(ctx, product)
}

// heal runs one replacement attempt under the policy timeout. The pending
// flag is persisted before the matcher runs so no second attempt can start
// for the same failure episode, and cleared however the attempt ends.
func (s *PolicyService) heal(ctx context.Context, product *models.Product) error {
	if err := bumpProduct(s.db, product, map[string]interface{}{
		"supplier_heal_pending": true,
	}); err != nil {
		return err
	}
	product.Supplier.HealPending = true

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PolicyTimeout)
	defer cancel()

	match, err := s.matcher.FindReplacement(ctx, product)
	switch {
	case err == nil:
		return s.applyHeal(product, match)

	case errors.Is(err, ErrNoSuitableReplacement):
		// Abandoned for this cycle; the next scheduled pass may retry.
		if werr := bumpProduct(s.db, product, map[string]interface{}{
			"supplier_heal_pending": false,
			"needs_review":          true,
		}); werr != nil {
			return werr
		}
		product.Supplier.HealPending = false
		product.NeedsReview = true
		s.alerts.HealFailed(product, err)
		return nil

	case errors.Is(err, context.DeadlineExceeded):
		if werr := bumpProduct(s.db, product, map[string]interface{}{
			"supplier_heal_pending": false,
		}); werr != nil {
			return werr
		}
		product.Supplier.HealPending = false
		s.alerts.PolicyTimedOut(product)
		return ErrPolicyTimeout

	default:
		// Candidate search failed outright; same handling as a timeout so
		// the next cycle retries.
		if werr := bumpProduct(s.db, product, map[string]interface{}{
			"supplier_heal_pending": false,
		}); werr != nil {
			return werr
		}
		product.Supplier.HealPending = false
		s.alerts.PolicyTimedOut(product)
		logrus.WithError(err).WithField("product_id", product.ID).Error("Candidate search failed")
		return nil
	}
}

// applyHeal swaps the supplier link to the matched candidate and appends the
// AUTO_HEAL entry in one transaction. A healed link starts over as active.
func (s *PolicyService) applyHeal(product *models.Product, match *Match) error {
	oldURL := product.Supplier.URL
	now := time.Now().UTC()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		seq, err := nextLogSeq(tx, product.ID)
		if err != nil {
			return err
		}

		if err := appendLogEntry(tx, product.ID, seq, LogDraft{
			Action:   models.ActionAutoHeal,
			OldValue: oldURL,
			NewValue: match.Candidate.URL,
			Details:  fmt.Sprintf("replacement similarity %.2f", match.Similarity),
		}, now); err != nil {
			return err
		}

		return bumpProduct(tx, product, map[string]interface{}{
			"supplier_url":                match.Candidate.URL,
			"supplier_platform":           match.Candidate.Platform,
			"supplier_status":             models.SupplierStatusActive,
			"supplier_current_price":      match.Candidate.Price,
			"supplier_previous_price":     nil,
			"supplier_stock_level":        1,
			"supplier_supplier_rating":    match.Candidate.SupplierRating,
			"supplier_unreachable_streak": 0,
			"supplier_heal_pending":       false,
			"needs_review":                false,
		})
	})
	if err != nil {
		return err
	}

	product.Supplier.URL = match.Candidate.URL
	product.Supplier.Platform = match.Candidate.Platform
	product.Supplier.Status = models.SupplierStatusActive
	product.Supplier.CurrentPrice = match.Candidate.Price
	product.Supplier.PreviousPrice = decimal.NullDecimal{}
	product.Supplier.StockLevel = 1
	product.Supplier.SupplierRating = match.Candidate.SupplierRating
	product.Supplier.UnreachableStreak = 0
	product.Supplier.HealPending = false
	product.NeedsReview = false

	logrus.WithFields(logrus.Fields{
		"product_id": product.ID,
		"old_url":    oldURL,
		"new_url":    match.Candidate.URL,
	}).Info("Supplier link auto-healed")

	return nil
}
