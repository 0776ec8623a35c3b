// Package runner drives one crawl per source: it flips the monitoring row,
// streams parser batches into the upsert engine and publishes a run summary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/metrics"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

// ErrRunFailed is returned by RunAll when at least one source failed.
var ErrRunFailed = errors.New("source run failed")

// Batcher persists one batch of records.
type Batcher interface {
	Process(ctx context.Context, records []car.Record) (store.RunCounts, error)
}

// Summary describes a finished source run. It is the published notification body.
type Summary struct {
	RunID      uuid.UUID       `json:"run_id"`
	Source     car.Source      `json:"source"`
	Status     store.RunStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMs int64           `json:"duration_ms"`
	Counts     store.RunCounts `json:"counts"`
	Error      string          `json:"error,omitempty"`
}

// Runner executes source crawls.
type Runner struct {
	parsers   map[car.Source]source.Parser
	batches   Batcher
	monitor   store.MonitorRepository
	publisher car.Publisher
	clock     car.Clock
	ids       car.IDGenerator
	logger    *zap.Logger
}

// New constructs a Runner. publisher may be nil to disable notifications.
func New(
	parsers []source.Parser,
	batches Batcher,
	monitor store.MonitorRepository,
	publisher car.Publisher,
	clock car.Clock,
	ids car.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[car.Source]source.Parser, len(parsers))
	for _, p := range parsers {
		byName[p.Name()] = p
	}
	return &Runner{
		parsers:   byName,
		batches:   batches,
		monitor:   monitor,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// RunAll marks every source pending, then runs them concurrently. A failing
// source never cancels the others. The returned error wraps ErrRunFailed when
// any source ended in failure.
func (r *Runner) RunAll(ctx context.Context, sources []car.Source) ([]Summary, error) {
	for _, src := range sources {
		if err := r.monitor.MarkPending(ctx, string(src), r.clock.Now()); err != nil {
			r.logger.Warn("mark pending failed", zap.String("source", string(src)), zap.Error(err))
		}
	}

	summaries := make([]Summary, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			summaries[i] = r.Run(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, s := range summaries {
		if s.Status != store.RunSuccess {
			failed = append(failed, fmt.Errorf("%w: %s: %s", ErrRunFailed, s.Source, s.Error))
		}
	}
	return summaries, errors.Join(failed...)
}

// Run crawls one source to completion and records the outcome. It never panics.
func (r *Runner) Run(ctx context.Context, src car.Source) Summary {
	started := r.clock.Now()
	summary := Summary{Source: src, StartedAt: started}

	runID, err := r.ids.NewRawID()
	if err != nil {
		r.logger.Warn("run id unavailable", zap.Error(err))
	}
	summary.RunID = runID
	logger := r.logger.With(zap.String("run_id", runID.String()), zap.String("source", string(src)))

	if err := r.monitor.MarkRunning(ctx, string(src), runID, started); err != nil {
		logger.Warn("mark running failed", zap.Error(err))
	}
	logger.Info("run started", zap.String("status", string(store.RunRunning)))

	var (
		mu     sync.Mutex
		counts store.RunCounts
	)
	sink := func(ctx context.Context, records []car.Record) error {
		metrics.ObserveListings(string(src), len(records))
		c, err := r.batches.Process(ctx, records)
		mu.Lock()
		counts.Add(c)
		mu.Unlock()
		return err
	}

	runErr := r.crawl(ctx, src, sink)

	finished := r.clock.Now()
	summary.FinishedAt = finished
	summary.DurationMs = finished.Sub(started).Milliseconds()
	summary.Counts = counts
	summary.Status = store.RunSuccess
	var errMsg *string
	if runErr != nil {
		summary.Status = store.RunFailure
		summary.Error = runErr.Error()
		errMsg = &summary.Error
	}

	// The outcome is recorded even when ctx was canceled mid-run.
	recordCtx := context.WithoutCancel(ctx)
	if err := r.monitor.CompleteRun(recordCtx, string(src), summary.Status, finished, counts, errMsg); err != nil {
		logger.Error("complete run failed", zap.Error(err))
	}
	metrics.ObserveRun(string(src), string(summary.Status), finished.Sub(started))

	fields := []zap.Field{
		zap.String("status", string(summary.Status)),
		zap.Int64("listings", counts.Listings),
		zap.Int64("inserted", counts.Inserted),
		zap.Int64("restored", counts.Restored),
		zap.Int64("swept", counts.Swept),
		zap.Int64("failed", counts.Failed),
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("run finished", fields...)
	}

	r.publish(recordCtx, summary, logger)
	return summary
}

func (r *Runner) crawl(ctx context.Context, src car.Source, sink source.Sink) (err error) {
	parser, ok := r.parsers[src]
	if !ok {
		return fmt.Errorf("no parser registered for %q", src)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("parser panicked",
				zap.String("source", string(src)),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()
	return parser.Crawl(ctx, sink)
}

func (r *Runner) publish(ctx context.Context, summary Summary, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	id, err := r.publisher.Publish(ctx, summary, map[string]string{
		"run_id": summary.RunID.String(),
		"source": string(summary.Source),
		"status": string(summary.Status),
	})
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	logger.Debug("run summary published", zap.String("message_id", id))
}
