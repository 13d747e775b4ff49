// Package reaper runs the periodic sweeps over video records: it fails
// records stuck in processing and re-dispatches records left in the queue.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultBatchSize = 50
)

// Redispatcher re-dispatches queued records older than a cutoff.
type Redispatcher interface {
	RedispatchQueued(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type Reaper struct {
	store      videos.Store
	redispatch Redispatcher

	// ProcessingTimeout is how long a record may stay processing. Zero
	// disables the stuck sweep.
	ProcessingTimeout time.Duration
	// RedispatchAfter is how long a record may sit queued before it is
	// dispatched again. Zero disables the redispatch sweep.
	RedispatchAfter time.Duration
	BatchSize       int
	Schedule        string
	Now             func() time.Time

	cron *cron.Cron
}

// New builds a reaper. redispatch may be nil.
func New(store videos.Store, redispatch Redispatcher, processingTimeout, redispatchAfter time.Duration) *Reaper {
	return &Reaper{
		store:             store,
		redispatch:        redispatch,
		ProcessingTimeout: processingTimeout,
		RedispatchAfter:   redispatchAfter,
		BatchSize:         DefaultBatchSize,
		Schedule:          DefaultSchedule,
		Now:               time.Now,
	}
}

// ReapStuck fails records that have been processing longer than
// ProcessingTimeout. A result that arrives later can still complete them.
func (r *Reaper) ReapStuck(ctx context.Context) (int, error) {
	if r.ProcessingTimeout <= 0 {
		return 0, nil
	}
	cutoff := r.Now().UTC().Add(-r.ProcessingTimeout)
	recs, err := r.store.ListByStatus(ctx, videos.StatusProcessing, cutoff, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}

	n := 0
	for _, rec := range recs {
		_, err := r.store.Modify(ctx, rec.ID, func(cur *videos.Record) error {
			if cur.Status != videos.StatusProcessing {
				return videos.ErrConflict
			}
			started := cur.UpdatedAt
			if cur.ProcessingStartedAt != nil {
				started = *cur.ProcessingStartedAt
			}
			if started.After(cutoff) {
				return videos.ErrConflict
			}
			return cur.MarkFailed(videos.TimeoutMessage, r.Now().UTC())
		})
		if errors.Is(err, videos.ErrConflict) {
			continue
		}
		if err != nil {
			slog.Error("failed to reap stuck record", "video_id", rec.ID, "error", err)
			continue
		}
		n++
		metrics.Sweeps.WithLabelValues("timed_out").Inc()
		slog.Warn("processing timed out", "video_id", rec.ID, "attempts", rec.DispatchAttempts)
	}
	return n, nil
}

// RedispatchStale hands queued records older than RedispatchAfter back to
// the dispatcher.
func (r *Reaper) RedispatchStale(ctx context.Context) (int, error) {
	if r.redispatch == nil || r.RedispatchAfter <= 0 {
		return 0, nil
	}
	n, err := r.redispatch.RedispatchQueued(ctx, r.Now().UTC().Add(-r.RedispatchAfter), r.BatchSize)
	metrics.Sweeps.WithLabelValues("redispatched").Add(float64(n))
	return n, err
}

// Sweep runs both sweeps once.
func (r *Reaper) Sweep(ctx context.Context) {
	if n, err := r.ReapStuck(ctx); err != nil {
		slog.Error("stuck sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("stuck sweep finished", "timed_out", n)
	}
	if n, err := r.RedispatchStale(ctx); err != nil {
		slog.Error("redispatch sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("redispatch sweep finished", "redispatched", n)
	}
}

// Start schedules Sweep. Overlapping runs are skipped. Call Stop to end it.
func (r *Reaper) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(r.Schedule, func() { r.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", r.Schedule, err)
	}
	r.cron = c
	c.Start()
	slog.Info("reaper started",
		"schedule", r.Schedule,
		"processing_timeout", r.ProcessingTimeout,
		"redispatch_after", r.RedispatchAfter,
	)
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// cronLogger sends cron's own logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
