package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/uploadqueue"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

// recordGetter reads a video record from the API.
type recordGetter interface {
	Get(ctx context.Context, id string) (*videos.Record, error)
}

// awaitProcessing polls the records of processing items until each one is
// ready or failed, then completes it in the queue.
func awaitProcessing(ctx context.Context, q *uploadqueue.Queue, api recordGetter, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending := 0
		for _, it := range q.Items() {
			if it.Status != uploadqueue.StatusProcessing || it.Result == nil || it.Result.Record == nil {
				continue
			}
			rec, err := api.Get(ctx, it.Result.Record.ID)
			if err != nil {
				slog.Warn("failed to poll video", "video_id", it.Result.Record.ID, "error", err)
				pending++
				continue
			}
			if !rec.Status.Terminal() {
				pending++
				continue
			}
			if err := q.Complete(it.ID, rec); err != nil {
				slog.Warn("failed to complete upload", "item_id", it.ID, "error", err)
			}
		}
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
