package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

var (
	ErrQueueFull    = errors.New("upload queue is full")
	ErrClosed       = errors.New("upload queue is closed")
	ErrNotFound     = errors.New("upload item not found")
	ErrInvalidState = errors.New("operation not allowed in the item's current state")
)

// Uploader transfers one item. progress reports bytes sent so far. Return
// Permanent(err) for failures a retry cannot fix.
type Uploader interface {
	Upload(ctx context.Context, item Item, progress func(sent int64)) (Result, error)
}

type UploaderFunc func(ctx context.Context, item Item, progress func(sent int64)) (Result, error)

func (f UploaderFunc) Upload(ctx context.Context, item Item, progress func(sent int64)) (Result, error) {
	return f(ctx, item, progress)
}

// EnqueueOptions are per-item settings.
type EnqueueOptions struct {
	Priority Priority
	Meta     map[string]string
}

type entry struct {
	item   Item
	seq    uint64
	gen    int
	manual bool
	cancel context.CancelFunc
	timer  Timer
}

// Queue is the upload scheduler. All bookkeeping happens under one mutex;
// transfers run on their own goroutines and report back through callbacks.
type Queue struct {
	uploader Uploader
	opts     options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	entries     map[string]*entry
	seq         uint64
	active      int
	paused      bool
	closed      bool
	subscribers map[int]func([]Item)
	nextSub     int

	wg sync.WaitGroup
}

func New(uploader Uploader, opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		uploader:    uploader,
		opts:        o,
		ctx:         ctx,
		cancel:      cancel,
		entries:     map[string]*entry{},
		subscribers: map[int]func([]Item){},
	}
}

// Enqueue adds a file and returns the item id.
func (q *Queue) Enqueue(file File, eo EnqueueOptions) (string, error) {
	var id string
	err := q.mutate(func() error {
		if q.closed {
			return ErrClosed
		}
		q.collect()
		if q.opts.maxSize > 0 && len(q.entries) >= q.opts.maxSize {
			return fmt.Errorf("%w: %d items", ErrQueueFull, len(q.entries))
		}
		if file.Name == "" {
			file.Name = file.Path
		}
		q.seq++
		id = uuid.NewString()
		prio := eo.Priority
		if prio == "" {
			prio = PriorityNormal
		}
		q.entries[id] = &entry{
			seq: q.seq,
			item: Item{
				ID:         id,
				File:       file,
				Status:     StatusPending,
				Priority:   prio,
				Meta:       eo.Meta,
				EnqueuedAt: q.opts.now(),
			},
		}
		return nil
	})
	if err != nil {
		q.reportError(err)
		return "", err
	}
	return id, nil
}

// Cancel removes a pending item or aborts an uploading one. An aborted item
// stays visible as canceled with its progress.
func (q *Queue) Cancel(id string) error {
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		switch e.item.Status {
		case StatusPending:
			q.stopTimer(e)
			delete(q.entries, id)
		case StatusUploading:
			e.cancel()
			now := q.opts.now()
			e.item.Status = StatusCanceled
			e.item.FinishedAt = &now
		default:
			return fmt.Errorf("%w: cannot cancel %s item", ErrInvalidState, e.item.Status)
		}
		return nil
	})
}

// Retry restarts a failed or canceled item with a fresh attempt budget.
func (q *Queue) Retry(id string) error {
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.item.Status != StatusError && e.item.Status != StatusCanceled {
			return fmt.Errorf("%w: cannot retry %s item", ErrInvalidState, e.item.Status)
		}
		q.reset(e)
		e.manual = true
		return nil
	})
}

// Remove drops an item in any state, aborting its transfer.
func (q *Queue) Remove(id string) error {
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.cancel != nil {
			e.cancel()
		}
		q.stopTimer(e)
		delete(q.entries, id)
		return nil
	})
}

// Pause stops new uploads from starting; running ones continue.
func (q *Queue) Pause() {
	q.mutate(func() error {
		q.paused = true
		return nil
	})
}

func (q *Queue) Resume() {
	q.mutate(func() error {
		q.paused = false
		return nil
	})
}

// PauseAll holds every unfinished item. Uploads in flight are aborted and
// go back to pending without using up an attempt.
func (q *Queue) PauseAll() {
	q.mutate(func() error {
		for _, e := range q.entries {
			switch e.item.Status {
			case StatusUploading:
				e.cancel()
				e.gen++
				e.item.Status = StatusPending
				e.item.Attempts = max(0, e.item.Attempts-1)
				e.item.Paused = true
			case StatusPending:
				e.item.Paused = true
			}
		}
		return nil
	})
}

// ResumeAll releases items held by PauseAll.
func (q *Queue) ResumeAll() {
	q.mutate(func() error {
		for _, e := range q.entries {
			e.item.Paused = false
		}
		return nil
	})
}

func (q *Queue) SetPriority(id string, p Priority) error {
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		e.item.Priority = ParsePriority(string(p))
		return nil
	})
}

// SetMaxConcurrent changes the concurrency budget. Lowering it does not
// abort running uploads.
func (q *Queue) SetMaxConcurrent(n int) {
	q.mutate(func() error {
		q.opts.maxConcurrent = max(1, n)
		return nil
	})
}

// StartUpload marks a pending item to start when the queue does not start
// items on its own. It still waits for a free slot.
func (q *Queue) StartUpload(id string) error {
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.item.Status != StatusPending {
			return fmt.Errorf("%w: cannot start %s item", ErrInvalidState, e.item.Status)
		}
		e.manual = true
		return nil
	})
}

// Complete records the server-side outcome of an item left processing.
func (q *Queue) Complete(id string, rec *videos.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidState)
	}
	return q.mutate(func() error {
		e, ok := q.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.item.Status != StatusProcessing {
			return fmt.Errorf("%w: item is %s", ErrInvalidState, e.item.Status)
		}
		if e.item.Result == nil {
			e.item.Result = &Result{}
		}
		e.item.Result.Record = rec.Clone()
		switch rec.Status {
		case videos.StatusReady:
			q.finish(e, StatusDone)
		case videos.StatusFailed:
			e.item.Error = &ErrorDetails{Message: rec.ErrorMessage, Attempt: e.item.Attempts}
			q.finish(e, StatusError)
		}
		return nil
	})
}

// Items returns a snapshot ordered by enqueue time.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.collect()
	return q.snapshot()
}

// Subscribe registers fn to receive a full snapshot after every change.
func (q *Queue) Subscribe(fn func([]Item)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// Close aborts in-flight transfers, stops retry timers and waits for the
// transfer goroutines to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, e := range q.entries {
		q.stopTimer(e)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// Wait blocks until no item is pending or uploading, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	idle := make(chan struct{}, 1)
	check := func(items []Item) {
		for _, it := range items {
			if it.Status == StatusPending || it.Status == StatusUploading {
				return
			}
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	}
	unsubscribe := q.Subscribe(check)
	defer unsubscribe()
	check(q.Items())

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate runs fn under the lock, reschedules, and notifies subscribers
// outside the lock.
func (q *Queue) mutate(fn func() error) error {
	q.mu.Lock()
	err := fn()
	if err != nil {
		q.mu.Unlock()
		return err
	}
	q.schedule()
	items, subs := q.snapshot(), q.subscriberList()
	q.mu.Unlock()

	q.notify(subs, items)
	return nil
}

// schedule starts pending items, highest priority first and FIFO within a
// priority, until the concurrency budget is used.
func (q *Queue) schedule() {
	if q.closed || q.paused {
		return
	}
	budget := q.opts.maxConcurrent - q.active
	if budget <= 0 {
		return
	}

	var ready []*entry
	for _, e := range q.entries {
		if e.item.Status != StatusPending || e.item.Paused || e.timer != nil {
			continue
		}
		if !q.opts.autoStart && !e.manual {
			continue
		}
		ready = append(ready, e)
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if wa, wb := a.item.Priority.Weight(), b.item.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if !a.item.EnqueuedAt.Equal(b.item.EnqueuedAt) {
			return a.item.EnqueuedAt.Before(b.item.EnqueuedAt)
		}
		return a.seq < b.seq
	})

	for _, e := range ready {
		if budget == 0 {
			break
		}
		q.start(e)
		budget--
	}
}

func (q *Queue) start(e *entry) {
	now := q.opts.now()
	ctx, cancel := context.WithCancel(q.ctx)
	e.cancel = cancel
	e.gen++
	e.item.Status = StatusUploading
	e.item.Attempts++
	e.item.StartedAt = &now
	e.item.RetryAt = nil
	e.item.Progress = 0
	e.item.BytesSent = 0
	q.active++

	id, gen, item := e.item.ID, e.gen, e.item.clone()
	q.emit(func(a Analytics) { a.Attempt(id, item.Attempts) })

	q.wg.Add(1)
	go q.run(ctx, cancel, id, gen, item)
}

func (q *Queue) run(ctx context.Context, cancel context.CancelFunc, id string, gen int, item Item) {
	defer q.wg.Done()
	defer cancel()

	progress := func(sent int64) {
		q.onProgress(id, gen, sent)
	}

	res, err := q.safeUpload(ctx, item, progress)

	q.mutate(func() error {
		q.active--
		e, ok := q.entries[id]
		if !ok || e.gen != gen || e.item.Status != StatusUploading {
			// Removed, canceled or paused while running.
			return nil
		}
		e.cancel = nil
		if err != nil {
			q.fail(e, err)
			return nil
		}
		q.succeed(e, res)
		return nil
	})
}

func (q *Queue) safeUpload(ctx context.Context, item Item, progress func(int64)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("uploader panicked: %v", r))
		}
	}()
	return q.uploader.Upload(ctx, item, progress)
}

func (q *Queue) onProgress(id string, gen int, sent int64) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok || e.gen != gen || e.item.Status != StatusUploading {
		q.mu.Unlock()
		return
	}
	e.item.BytesSent = sent
	if size := e.item.File.Size; size > 0 {
		e.item.Progress = min(1, float64(sent)/float64(size))
	}
	items, subs := q.snapshot(), q.subscriberList()
	q.mu.Unlock()

	q.notify(subs, items)
}

func (q *Queue) succeed(e *entry, res Result) {
	id := e.item.ID
	took := time.Duration(0)
	if e.item.StartedAt != nil {
		took = q.opts.now().Sub(*e.item.StartedAt)
	}
	e.item.Result = &res
	e.item.Error = nil
	e.item.Progress = 1
	if e.item.File.Size > 0 {
		e.item.BytesSent = e.item.File.Size
	}

	q.emit(func(a Analytics) { a.Success(id, took) })
	if res.Trim != nil && res.Trim.DidFallback {
		reason := res.Trim.FallbackReason
		q.emit(func(a Analytics) { a.Fallback(id, reason) })
	}

	if res.Record != nil && !res.Record.Status.Terminal() {
		e.item.Status = StatusProcessing
		return
	}
	if res.Record != nil && res.Record.Status == videos.StatusFailed {
		e.item.Error = &ErrorDetails{Message: res.Record.ErrorMessage, Attempt: e.item.Attempts}
		q.finish(e, StatusError)
		return
	}
	q.finish(e, StatusDone)
}

func (q *Queue) fail(e *entry, err error) {
	id := e.item.ID
	attempt := e.item.Attempts
	recoverable := !IsPermanent(err) && attempt < q.opts.retry.MaxAttempts

	e.item.Error = &ErrorDetails{Message: err.Error(), Recoverable: recoverable, Attempt: attempt}
	q.emit(func(a Analytics) { a.Failure(id, err, recoverable) })

	if !recoverable {
		slog.Warn("upload failed", "item_id", id, "file", e.item.File.Name, "attempt", attempt, "error", err)
		q.finish(e, StatusError)
		return
	}

	delay := q.opts.retry.Delay(attempt-1, q.opts.random())
	retryAt := q.opts.now().Add(delay)
	e.item.Status = StatusPending
	e.item.RetryAt = &retryAt
	gen := e.gen
	slog.Info("upload failed, retrying", "item_id", id, "attempt", attempt, "delay", delay, "error", err)
	e.timer = q.opts.afterFunc(delay, func() {
		q.mutate(func() error {
			if cur, ok := q.entries[id]; ok && cur.gen == gen {
				cur.timer = nil
				cur.item.RetryAt = nil
			}
			return nil
		})
	})
}

func (q *Queue) finish(e *entry, status Status) {
	now := q.opts.now()
	e.item.Status = status
	e.item.FinishedAt = &now
	e.item.RetryAt = nil
}

func (q *Queue) reset(e *entry) {
	q.stopTimer(e)
	e.gen++
	e.item.Status = StatusPending
	e.item.Attempts = 0
	e.item.Progress = 0
	e.item.BytesSent = 0
	e.item.Error = nil
	e.item.Result = nil
	e.item.StartedAt = nil
	e.item.FinishedAt = nil
	e.item.RetryAt = nil
}

func (q *Queue) stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// collect drops finished items past the retention period.
func (q *Queue) collect() {
	if q.opts.retention <= 0 {
		return
	}
	cutoff := q.opts.now().Add(-q.opts.retention)
	for id, e := range q.entries {
		if e.item.Status.Finished() && e.item.FinishedAt != nil && e.item.FinishedAt.Before(cutoff) {
			delete(q.entries, id)
		}
	}
}

func (q *Queue) snapshot() []Item {
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = e.item.clone()
	}
	return items
}

func (q *Queue) subscriberList() []func([]Item) {
	subs := make([]func([]Item), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (q *Queue) notify(subs []func([]Item), items []Item) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("upload queue subscriber panicked", "panic", r)
				}
			}()
			fn(items)
		}()
	}
}

// emit calls the analytics sink on its own goroutine.
func (q *Queue) emit(fn func(Analytics)) {
	a := q.opts.analytics
	if a == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("upload analytics panicked", "panic", r)
			}
		}()
		fn(a)
	}()
}

func (q *Queue) reportError(err error) {
	if q.opts.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("upload queue error handler panicked", "panic", r)
		}
	}()
	q.opts.onError(err)
}
