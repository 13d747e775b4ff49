package uploadqueue

import (
	"math/rand"
	"time"
)

// Analytics receives upload events. Calls happen off the scheduler and a
// panicking implementation is recovered.
type Analytics interface {
	Attempt(itemID string, attempt int)
	Success(itemID string, took time.Duration)
	Failure(itemID string, err error, recoverable bool)
	Fallback(itemID string, reason string)
}

// Timer is the part of *time.Timer the queue uses.
type Timer interface {
	Stop() bool
}

type options struct {
	maxConcurrent int
	maxSize       int
	autoStart     bool
	retention     time.Duration
	retry         RetryPolicy
	analytics     Analytics
	onError       func(error)
	now           func() time.Time
	random        func() float64
	afterFunc     func(time.Duration, func()) Timer
}

func defaultOptions() options {
	return options{
		maxConcurrent: 2,
		maxSize:       100,
		autoStart:     true,
		retention:     10 * time.Minute,
		retry:         DefaultRetryPolicy(),
		now:           time.Now,
		random:        rand.Float64,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
}

type Option func(*options)

// WithMaxConcurrent bounds simultaneous uploads.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = max(1, n) }
}

// WithMaxSize bounds the number of items held by the queue.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithAutoStart controls whether pending items start without StartUpload.
func WithAutoStart(auto bool) Option {
	return func(o *options) { o.autoStart = auto }
}

// WithRetention sets how long finished items stay visible.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

func WithAnalytics(a Analytics) Option {
	return func(o *options) { o.analytics = a }
}

// WithErrorHandler receives queue-level errors such as a rejected enqueue.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithClock replaces the time source and timer factory.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
		if afterFunc != nil {
			o.afterFunc = afterFunc
		}
	}
}

// WithRandom replaces the jitter source. fn returns a number in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(o *options) { o.random = fn }
}
