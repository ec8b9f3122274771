// Package pipeline orchestrates intake, normalization, persistence and
// timeline publication.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
	"github.com/tmfg/portcall-timestamp-service/internal/observability"
)

// Extractor reads up to batchSize intake messages from the queue.
type Extractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.IntakeMessage, error)
}

// PredictionFetcher fetches one ship's current prediction from a provider.
type PredictionFetcher interface {
	FetchPrediction(ctx context.Context, ship domain.Ship, locode string) (domain.Prediction, error)
}

// TimestampStore is the persistence coordinator surface the pipeline needs.
type TimestampStore interface {
	UpsertTimestamps(ctx context.Context, events []domain.CanonicalEvent) ([]domain.UpsertResult, error)
	ResolvePortcall(ctx context.Context, locode string, eventType domain.EventType, refTime time.Time, ship domain.Ship) (*int64, error)
	LatestDestination(ctx context.Context, ship domain.Ship) (*domain.KnownDestination, error)
	FindByPortcall(ctx context.Context, portcallID int64) ([]domain.CanonicalEvent, error)
	ActiveShips(ctx context.Context) ([]domain.Ship, error)
}

// TimelinePublisher publishes one reconciled port-call timeline downstream.
type TimelinePublisher interface {
	PublishTimeline(ctx context.Context, portcallID int64, events []domain.CanonicalEvent) error
}

// ItemResult reports the outcome of one intake item. Exactly one of Reject
// and Err is set on failure; both empty means the item was persisted.
type ItemResult struct {
	Event  domain.CanonicalEvent
	Reject domain.RejectReason
	Err    error
}

// Options bundles the pipeline tuning knobs.
type Options struct {
	BatchSize        int
	FetchConcurrency int
	ShortHorizon     time.Duration
}

// Pipeline runs the intake loop: extract a batch, decode each message as a
// timestamp batch or a normalization trigger, persist the resulting events
// in one transaction per batch, and publish affected timelines.
type Pipeline struct {
	extractor  Extractor
	fetcher    PredictionFetcher
	store      TimestampStore
	publisher  TimelinePublisher
	normalizer *domain.Normalizer
	reconciler *domain.Reconciler
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	opts       Options
}

// New creates a Pipeline. publisher may be nil to disable sink publication.
func New(
	extractor Extractor,
	fetcher PredictionFetcher,
	store TimestampStore,
	publisher TimelinePublisher,
	normalizer *domain.Normalizer,
	reconciler *domain.Reconciler,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 10
	}
	if opts.ShortHorizon <= 0 {
		opts.ShortHorizon = domain.DefaultShortHorizon
	}
	return &Pipeline{
		extractor:  extractor,
		fetcher:    fetcher,
		store:      store,
		publisher:  publisher,
		normalizer: normalizer,
		reconciler: reconciler,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one
// message, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run executes the intake loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.opts.BatchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-handle cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.opts.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	for _, msg := range batch {
		if err := p.handleMessage(ctx, msg); err != nil {
			// Persistence failures are retried by redelivery: leave the
			// offset uncommitted and back off.
			p.logger.Error("handle message failed", "error", err,
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			return p.backoffOrStop(ctx, backoff, maxBackoff)
		}
		p.commitOffset(ctx, msg)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// handleMessage dispatches one intake message by its message_type header.
// Malformed messages are logged and dropped; only persistence failures
// propagate so the whole message can be retried safely.
func (p *Pipeline) handleMessage(ctx context.Context, msg domain.IntakeMessage) error {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)

	switch msg.Headers["message_type"] {
	case domain.MessageTypeTimestamps:
		var batch domain.TimestampBatch
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			logger.Warn("dropping malformed timestamp batch", "error", err, "offset", msg.Offset)
			return nil
		}
		results, err := p.PersistTimestamps(ctx, batch.Timestamps)
		if err != nil {
			return err
		}
		logResults(logger, results)
		return nil

	case domain.MessageTypeTrigger:
		var trigger domain.Trigger
		if err := json.Unmarshal(msg.Value, &trigger); err != nil {
			logger.Warn("dropping malformed trigger", "error", err, "offset", msg.Offset)
			return nil
		}
		return p.RunTrigger(ctx, trigger, logger)

	default:
		logger.Warn("dropping message with unknown type",
			"message_type", msg.Headers["message_type"], "offset", msg.Offset)
		return nil
	}
}

// RunTrigger fetches and normalizes predictions for every ship named by the
// trigger, then persists the harvest as one batch. Fan-out settles all
// ships: one ship's failure never aborts its siblings.
func (p *Pipeline) RunTrigger(ctx context.Context, trigger domain.Trigger, logger *slog.Logger) error {
	if len(trigger.Ships) == 0 {
		logger.Warn("trigger names no ships")
		return nil
	}

	var (
		mu     sync.Mutex
		events []domain.CanonicalEvent
	)

	g, fetchCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FetchConcurrency)
	for _, ship := range trigger.Ships {
		g.Go(func() error {
			harvested := p.normalizeShip(fetchCtx, ship, trigger.Locode, logger)
			if len(harvested) > 0 {
				mu.Lock()
				events = append(events, harvested...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are per-ship

	if len(events) == 0 {
		return nil
	}

	results, err := p.PersistTimestamps(ctx, events)
	if err != nil {
		return err
	}
	logResults(logger, results)
	return nil
}

// normalizeShip runs the per-ship leg of a trigger: fetch with one retry,
// look up the previously known destination, normalize. Failures are logged
// and counted, never propagated.
func (p *Pipeline) normalizeShip(ctx context.Context, ship domain.Ship, locode string, logger *slog.Logger) []domain.CanonicalEvent {
	known, err := p.store.LatestDestination(ctx, ship)
	if err != nil {
		logger.Warn("known destination lookup failed", "ship", ship.String(), "error", err)
		known = nil
	}

	// The explicit-destination parameter is only sent inside the short
	// horizon, when the currently recorded destination is trustworthy.
	explicit := locode
	if explicit == "" && known != nil && known.Arrival.Sub(domain.Now()) < p.opts.ShortHorizon {
		explicit = known.Locode
	}

	start := time.Now()
	prediction, err := p.fetcher.FetchPrediction(ctx, ship, explicit)
	p.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.PredictionFetches.WithLabelValues("error").Inc()
		logger.Warn("prediction fetch failed, skipping ship", "ship", ship.String(), "error", err)
		return nil
	}
	p.metrics.PredictionFetches.WithLabelValues("success").Inc()

	normalized, reject := p.normalizer.Normalize(domain.ETA, prediction, known)
	if reject != domain.RejectNone {
		p.metrics.PredictionRejects.WithLabelValues(string(reject)).Inc()
		return nil
	}
	return normalized
}

// PersistTimestamps validates, resolves port-call identity for, and writes
// a batch of canonical events in one transaction, then publishes the
// reconciled timelines of the port calls the batch touched. Per-item
// validation failures are reported in the result slice; only persistence
// errors are returned.
func (p *Pipeline) PersistTimestamps(ctx context.Context, events []domain.CanonicalEvent) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(events))
	valid := make([]domain.CanonicalEvent, 0, len(events))

	now := domain.Now().UTC()
	for _, e := range events {
		if err := e.Validate(); err != nil {
			results = append(results, ItemResult{Event: e, Err: err})
			continue
		}
		if e.PortcallID == nil {
			id, err := p.store.ResolvePortcall(ctx, e.Location.Port, e.EventType, now, e.Ship)
			if err != nil {
				return nil, fmt.Errorf("resolve portcall: %w", err)
			}
			e.PortcallID = id
		}
		valid = append(valid, e)
	}

	if len(valid) == 0 {
		return results, nil
	}

	upserts, err := p.store.UpsertTimestamps(ctx, valid)
	if err != nil {
		return nil, err
	}

	p.metrics.EventsPersisted.Add(float64(len(upserts)))
	touched := make(map[int64]bool)
	for _, u := range upserts {
		results = append(results, ItemResult{Event: u.Event})
		if u.LocodeChanged > 0 {
			p.metrics.LocodeChanges.Add(float64(u.LocodeChanged))
		}
		if u.Event.PortcallID != nil {
			touched[*u.Event.PortcallID] = true
		}
	}

	if err := p.publishTimelines(ctx, touched); err != nil {
		// The batch is already durable; publication failures are
		// recoverable downstream and must not trigger a batch retry.
		p.logger.Warn("timeline publication failed", "error", err)
	}

	return results, nil
}

func (p *Pipeline) publishTimelines(ctx context.Context, portcalls map[int64]bool) error {
	if p.publisher == nil || len(portcalls) == 0 {
		return nil
	}
	var errs []error
	for id := range portcalls {
		stored, err := p.store.FindByPortcall(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		timeline := p.reconciler.Reconcile(stored)
		if err := p.publisher.PublishTimeline(ctx, id, timeline); err != nil {
			errs = append(errs, err)
			continue
		}
		p.metrics.TimelinesPublished.Inc()
	}
	return errors.Join(errs...)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, msg domain.IntakeMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func logResults(logger *slog.Logger, results []ItemResult) {
	persisted := 0
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("timestamp rejected", "error", r.Err,
				"ship", r.Event.Ship.String(), "locode", r.Event.Location.Port)
			continue
		}
		persisted++
	}
	logger.Info("batch persisted", "persisted", persisted, "rejected", len(results)-persisted)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
