// Package uploadqueue schedules client-side uploads of video files: bounded
// concurrency, priorities, retry with backoff, pause/resume and progress
// snapshots for subscribers.
package uploadqueue

import (
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCanceled   Status = "canceled"
)

// Finished reports whether the item will not be scheduled again on its own.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight orders priorities; higher goes first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	}
	return 1
}

// ParsePriority maps a name to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityNormal
}

// File is the local file behind an item.
type File struct {
	Path string
	Name string
	Size int64
}

// Result is what a finished upload produced.
type Result struct {
	Key    string
	URL    string
	Record *videos.Record
	Trim   *videos.Trim
}

type ErrorDetails struct {
	Message     string
	Recoverable bool
	Attempt     int
}

// Item is a snapshot of one queued upload.
type Item struct {
	ID       string
	File     File
	Status   Status
	Priority Priority
	// Paused items are held by PauseAll until ResumeAll.
	Paused bool

	Progress  float64
	BytesSent int64
	Attempts  int

	// Meta is passed through to the uploader untouched.
	Meta map[string]string

	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	// RetryAt is set while the item waits for its next attempt.
	RetryAt *time.Time

	Result *Result
	Error  *ErrorDetails
}

func (it Item) clone() Item {
	c := it
	if it.Meta != nil {
		c.Meta = make(map[string]string, len(it.Meta))
		for k, v := range it.Meta {
			c.Meta[k] = v
		}
	}
	if it.Result != nil {
		r := *it.Result
		c.Result = &r
	}
	if it.Error != nil {
		e := *it.Error
		c.Error = &e
	}
	return c
}
