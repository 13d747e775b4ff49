package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

// Limits are the rendition limits put on every job.
type Limits struct {
	MaxClipSeconds     float64
	TargetMaxDimension int
}

// Dispatcher claims queued records and hands them to the backend.
type Dispatcher struct {
	store   videos.Store
	backend Backend
	limits  Limits

	// Timeout bounds a background dispatch, including a local run.
	Timeout time.Duration
	Now     func() time.Time

	wg sync.WaitGroup
}

func New(store videos.Store, backend Backend, limits Limits) *Dispatcher {
	return &Dispatcher{
		store:   store,
		backend: backend,
		limits:  limits,
		Timeout: 10 * time.Minute,
		Now:     time.Now,
	}
}

// Backend returns the selected backend.
func (d *Dispatcher) Backend() Backend {
	return d.backend
}

// Dispatch hands one queued record to the backend and returns the record as
// left by the attempt. A record that is not queued is left untouched and
// videos.ErrConflict is returned.
//
// A failed handoff puts the record back in the queue with dispatchError set;
// a result returned inline is applied immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (*videos.Record, error) {
	rec, err := videos.Claim(ctx, d.store, id, d.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}

	logger := slog.With("video_id", id, "backend", d.backend.Name(), "attempt", rec.DispatchAttempts)
	job := normalize.NewJob(rec, d.limits.MaxClipSeconds, d.limits.TargetMaxDimension)

	res, err := d.backend.Dispatch(ctx, job)
	if err != nil {
		metrics.Dispatches.WithLabelValues(d.backend.Name(), "error").Inc()
		return d.requeue(ctx, logger, id, err)
	}

	if res == nil {
		metrics.Dispatches.WithLabelValues(d.backend.Name(), "published").Inc()
		logger.Info("job handed to broker")
		return rec, nil
	}

	metrics.Dispatches.WithLabelValues(d.backend.Name(), "completed").Inc()
	var merge videos.Merge
	updated, err := d.store.Modify(context.WithoutCancel(ctx), id, func(r *videos.Record) error {
		var err error
		merge, err = videos.ApplyResult(r, *res, d.Now().UTC())
		if err == nil && !merge.Changed {
			return errUnchanged
		}
		return err
	})
	if errors.Is(err, errUnchanged) {
		return d.store.Get(ctx, id)
	}
	if errors.Is(err, videos.ErrAmbiguousResult) || errors.Is(err, videos.ErrIncompleteResult) {
		return d.requeue(ctx, logger, id, fmt.Errorf("unusable result from %s: %w", d.backend.Name(), err))
	}
	if err != nil {
		return nil, fmt.Errorf("apply result for %s: %w", id, err)
	}
	logger.Info("inline result applied", "status", updated.Status, "idempotent", merge.Idempotent)
	return updated, nil
}

var errUnchanged = errors.New("unchanged")

// requeue returns a claimed record to the queue with cause as its
// dispatchError. cause is always returned.
func (d *Dispatcher) requeue(ctx context.Context, logger *slog.Logger, id string, cause error) (*videos.Record, error) {
	logger.Error("dispatch failed, returning record to queue", "error", cause)
	reverted, err := d.store.Modify(context.WithoutCancel(ctx), id, func(r *videos.Record) error {
		return r.MarkDispatchFailed(cause.Error(), d.Now().UTC())
	})
	if err != nil {
		// The record moved on (a callback or the reaper got there first).
		logger.Warn("could not revert record after dispatch failure", "error", err)
		return nil, errors.Join(cause, err)
	}
	return reverted, cause
}

// DispatchAsync runs Dispatch in the background on a context detached from
// the caller, so the ingress response never waits on it.
func (d *Dispatcher) DispatchAsync(id string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		if _, err := d.Dispatch(ctx, id); err != nil && !errors.Is(err, videos.ErrConflict) {
			slog.Error("background dispatch failed", "video_id", id, "error", err)
		}
	}()
}

// Wait blocks until background dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RedispatchQueued dispatches records that have sat in the queue since
// before olderThan. It returns how many were handed off without error.
func (d *Dispatcher) RedispatchQueued(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	recs, err := d.store.ListByStatus(ctx, videos.StatusQueued, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("list queued: %w", err)
	}
	n := 0
	for _, r := range recs {
		if ctx.Err() != nil {
			break
		}
		if _, err := d.Dispatch(ctx, r.ID); err != nil {
			if !errors.Is(err, videos.ErrConflict) {
				slog.Warn("redispatch failed", "video_id", r.ID, "error", err)
			}
			continue
		}
		n++
	}
	return n, ctx.Err()
}

// Close releases backend resources.
func (d *Dispatcher) Close() error {
	d.Wait()
	if c, ok := d.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
