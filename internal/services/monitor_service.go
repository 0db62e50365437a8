// internal/services/monitor_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// MonitorService runs the per-product pipeline:
//
//	Ingest -> State Machine -> Risk Scoring -> Policy -> optional Matcher
//
// A pool of workers processes products concurrently; a keyed mutex plus the
// product's version column serialize work on any single product, so at most
// one pipeline run (and therefore one heal attempt) is in flight per product.
// A cron cadence rescores every monitored product even without new
// observations, to capture time decay of risk.
type MonitorService struct {
	db     *gorm.DB
	cfg    config.MonitoringConfig
	ingest *IngestService
	risk   *RiskService
	policy *PolicyService
	alerts *AlertService

	jobs   chan pipelineJob
	locks  *productLocks
	cron   *cron.Cron
	cancel context.CancelFunc
	group  *errgroup.Group
}

// pipelineJob is one unit of work. A nil observation means rescore-only
// (periodic cadence or a force re-evaluate).
type pipelineJob struct {
	productID   uuid.UUID
	observation *Observation
}

func NewMonitorService(db *gorm.DB, cfg config.MonitoringConfig, ingest *IngestService, risk *RiskService, policy *PolicyService, alerts *AlertService) *MonitorService {
	return &MonitorService{
		db:     db,
		cfg:    cfg,
		ingest: ingest,
		risk:   risk,
		policy: policy,
		alerts: alerts,
		jobs:   make(chan pipelineJob, cfg.QueueSize),
		locks:  newProductLocks(),
		cron:   cron.New(),
	}
}

// Start launches the worker pool and the rescore cadence.
func (s *MonitorService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	s.group = group
	for i := 0; i < s.cfg.WorkerCount; i++ {
		group.Go(func() error {
			return s.worker(ctx)
		})
	}

	if _, err := s.cron.AddFunc(s.cfg.RescoreCron, s.enqueueAllMonitored); err != nil {
		cancel()
		return fmt.Errorf("invalid rescore cron expression %q: %w", s.cfg.RescoreCron, err)
	}
	s.cron.Start()

	logrus.WithFields(logrus.Fields{
		"workers": s.cfg.WorkerCount,
		"cadence": s.cfg.RescoreCron,
	}).Info("Supplier monitor started")
	return nil
}

// Stop drains the scheduler. Workers finish the pipeline run they are on --
// its atomic writes complete -- and abandon the rest of the queue; anything
// unprocessed is retried when the scheduler comes back.
func (s *MonitorService) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()

	select {
	case err := <-done:
		logrus.Info("Supplier monitor stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timed out: %w", ctx.Err())
	}
}

// SubmitObservation enqueues one observation cycle. The call is accepted or
// rejected synchronously; processing completes asynchronously.
func (s *MonitorService) SubmitObservation(productID uuid.UUID, obs Observation) error {
	return s.enqueue(pipelineJob{productID: productID, observation: &obs})
}

// Reevaluate enqueues a rescore-and-policy pass without a new observation.
func (s *MonitorService) Reevaluate(productID uuid.UUID) error {
	return s.enqueue(pipelineJob{productID: productID})
}

func (s *MonitorService) enqueue(job pipelineJob) error {
	select {
	case s.jobs <- job:
		return nil
	default:
		return fmt.Errorf("monitor queue is full")
	}
}

func (s *MonitorService) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.jobs:
			// The job itself runs under a background context so that
			// shutdown never tears a pipeline mid-write.
			if err := s.Process(context.Background(), job.productID, job.observation); err != nil {
				logrus.WithError(err).WithField("product_id", job.productID).Error("Pipeline run failed")
			}
		}
	}
}

func (s *MonitorService) enqueueAllMonitored() {
	var ids []uuid.UUID
	if err := s.db.Model(&models.Product{}).Where("monitored = ?", true).Pluck("id", &ids).Error; err != nil {
		logrus.WithError(err).Error("Failed to list monitored products for rescore")
		return
	}

	var skipped int
	for _, id := range ids {
		if err := s.Reevaluate(id); err != nil {
			skipped++
		}
	}

	logrus.WithFields(logrus.Fields{
		"products": len(ids),
		"skipped":  skipped,
	}).Info("Scheduled rescore pass enqueued")
}

// Process runs one full pipeline for a product under its lock. A conflicting
// concurrent write retries the whole run once; a second conflict surfaces as
// a transient failure and the observation stays unprocessed.
func (s *MonitorService) Process(ctx context.Context, productID uuid.UUID, obs *Observation) error {
	unlock := s.locks.acquire(productID)
	defer unlock()

	err := s.runPipeline(ctx, productID, obs)
	if errors.Is(err, ErrConcurrentWriteConflict) {
		err = s.runPipeline(ctx, productID, obs)
		if errors.Is(err, ErrConcurrentWriteConflict) {
			s.alerts.WriteConflict(productID)
		}
	}
	return err
}

func (s *MonitorService) runPipeline(ctx context.Context, productID uuid.UUID, obs *Observation) error {
	var product models.Product
	if err := s.db.First(&product, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("product_id", productID).Warn("Pipeline skipped: product not found")
			return nil
		}
		return fmt.Errorf("failed to load product: %w", err)
	}

	now := time.Now().UTC()

	if obs != nil {
		if err := s.applyObservation(&product, *obs, now); err != nil {
			if errors.Is(err, ErrDuplicateObservation) || errors.Is(err, ErrInvalidObservation) {
				// Handled locally: discarded, prior state unchanged.
				return nil
			}
			return err
		}
	}

	// Risk runs after every transition and on the periodic cadence.
	result, err := s.risk.Score(&product, now)
	if err != nil {
		return err
	}
	result.ApplyTo(&product.Insight)

	if err := bumpProduct(s.db, &product, map[string]interface{}{
		"insight_risk_score":           product.Insight.RiskScore,
		"insight_previous_score":       product.Insight.PreviousScore,
		"insight_previous_analyzed_at": product.Insight.PreviousAnalyzedAt,
		"insight_predicted_removal_at": product.Insight.PredictedRemovalAt,
		"insight_last_analyzed_at":     product.Insight.LastAnalyzedAt,
	}); err != nil {
		return err
	}

	return s.policy.Execute(ctx, &product)
}

// applyObservation normalizes the observation, runs the state machine and
// persists the outcome -- observation row, transition row, log entries and
// supplier fields -- as one atomic write.
func (s *MonitorService) applyObservation(product *models.Product, obs Observation, now time.Time) error {
	sig, err := s.ingest.Normalize(product, obs)
	if err != nil {
		if errors.Is(err, ErrInvalidObservation) {
			logrus.WithError(err).WithField("product_id", product.ID).Warn("Observation discarded")
		}
		return err
	}

	outcome := NextState(product.Supplier, sig, s.cfg)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		observedAt := sig.ObservedAt.UTC()

		record := &models.SupplierObservation{
			ProductID:  product.ID,
			ObservedAt: observedAt,
			Price:      sig.Price,
			PriceDelta: sig.PriceDelta,
			InStock:    sig.InStock,
			Reachable:  sig.Reachable,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to record observation: %w", err)
		}

		if outcome.Transitioned() {
			transition := &models.StatusTransition{
				ProductID:  product.ID,
				FromStatus: outcome.From,
				ToStatus:   outcome.To,
				ObservedAt: observedAt,
			}
			if err := tx.Create(transition).Error; err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}

		if len(outcome.LogEntries) > 0 {
			seq, err := nextLogSeq(tx, product.ID)
			if err != nil {
				return err
			}
			for i, draft := range outcome.LogEntries {
				if err := appendLogEntry(tx, product.ID, seq+int64(i), draft, now); err != nil {
					return err
				}
			}
		}

		return bumpProduct(tx, product, map[string]interface{}{
			"supplier_status":             outcome.To,
			"supplier_current_price":      outcome.CurrentPrice,
			"supplier_previous_price":     outcome.PreviousPrice,
			"supplier_stock_level":        outcome.StockLevel,
			"supplier_unreachable_streak": outcome.UnreachableStreak,
			"supplier_last_checked_at":    now,
			"supplier_last_observed_at":   observedAt,
		})
	})
	if err != nil {
		return err
	}

	product.Supplier.Status = outcome.To
	product.Supplier.CurrentPrice = outcome.CurrentPrice
	product.Supplier.PreviousPrice = outcome.PreviousPrice
	product.Supplier.StockLevel = outcome.StockLevel
	product.Supplier.UnreachableStreak = outcome.UnreachableStreak
	product.Supplier.LastCheckedAt = &now
	observedAt := sig.ObservedAt.UTC()
	product.Supplier.LastObservedAt = &observedAt

	if outcome.Transitioned() {
		logrus.WithFields(logrus.Fields{
			"product_id": product.ID,
			"from":       outcome.From,
			"to":         outcome.To,
		}).Info("Supplier status transition")
	}

	return nil
}

// bumpProduct applies a conditional write guarded by the product version.
// RowsAffected zero means another run got there first.
func bumpProduct(db *gorm.DB, product *models.Product, changes map[string]interface{}) error {
	changes["version"] = product.Version + 1
	result := db.Model(&models.Product{}).
		Where("id = ? AND version = ?", product.ID, product.Version).
		Updates(changes)
	if result.Error != nil {
		return fmt.Errorf("failed to update product: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentWriteConflict
	}
	product.Version++
	return nil
}

func nextLogSeq(tx *gorm.DB, productID uuid.UUID) (int64, error) {
	var seq int64
	err := tx.Model(&models.AutomationLogEntry{}).
		Where("product_id = ?", productID).
		Select("COALESCE(MAX(seq), 0) + 1").
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute log sequence: %w", err)
	}
	return seq, nil
}

func appendLogEntry(tx *gorm.DB, productID uuid.UUID, seq int64, draft LogDraft, at time.Time) error {
	entry := &models.AutomationLogEntry{
		ProductID:  productID,
		Seq:        seq,
		Action:     draft.Action,
		OldValue:   draft.OldValue,
		NewValue:   draft.NewValue,
		Details:    draft.Details,
		RecordedAt: at,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append automation log entry: %w", err)
	}
	return nil
}

// productLocks is a refcounted keyed mutex: one exclusive lock per product
// for the duration of a pipeline run.
type productLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newProductLocks() *productLocks {
	return &productLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

func (l *productLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
