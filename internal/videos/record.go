// Package videos holds the durable VideoRecord and its processing state machine.
package videos

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the processing state of a video record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound          = errors.New("video not found")
	ErrConflict          = errors.New("video status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TimeoutMessage is recorded when the reaper gives up on a processing record.
const TimeoutMessage = "processing timed out"

// maxErrorLen bounds stored error messages.
const maxErrorLen = 1000

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is ready or failed.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Record tracks one video asset from upload to ready.
type Record struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"ownerId"`
	CharterID *string `json:"charterId,omitempty"`

	OriginalKey string `json:"originalKey"`
	OriginalURL string `json:"originalUrl"`

	// ClipStartSec is the client's chosen start in the original upload.
	// TrimStartSec is the part of it the worker still has to seek past.
	ClipStartSec        float64  `json:"startSec"`
	TrimStartSec        float64  `json:"trimStartSec"`
	OriginalDurationSec *float64 `json:"originalDurationSec,omitempty"`
	OriginalWidth       *int     `json:"originalWidth,omitempty"`
	OriginalHeight      *int     `json:"originalHeight,omitempty"`

	Status Status `json:"processStatus"`

	ReadyKey     string `json:"ready720pKey,omitempty"`
	ReadyURL     string `json:"ready720pUrl,omitempty"`
	ThumbnailKey string `json:"thumbnailKey,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`

	ErrorMessage  string `json:"errorMessage,omitempty"`
	DispatchError string `json:"dispatchError,omitempty"`

	DidFallback    bool   `json:"didFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`

	DispatchAttempts    int        `json:"dispatchAttempts"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.CharterID != nil {
		v := *r.CharterID
		c.CharterID = &v
	}
	if r.OriginalDurationSec != nil {
		v := *r.OriginalDurationSec
		c.OriginalDurationSec = &v
	}
	if r.OriginalWidth != nil {
		v := *r.OriginalWidth
		c.OriginalWidth = &v
	}
	if r.OriginalHeight != nil {
		v := *r.OriginalHeight
		c.OriginalHeight = &v
	}
	if r.ProcessingStartedAt != nil {
		v := *r.ProcessingStartedAt
		c.ProcessingStartedAt = &v
	}
	return &c
}

// Validate checks the output/error invariants of the record.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.ClipStartSec < 0 {
		return errors.New("clip start must be >= 0")
	}
	if r.TrimStartSec < 0 {
		return errors.New("trim start must be >= 0")
	}
	hasOutput := r.ReadyURL != "" || r.ReadyKey != ""
	if hasOutput != (r.Status == StatusReady) {
		return fmt.Errorf("outputs must be set iff status is ready (status=%s)", r.Status)
	}
	if r.ErrorMessage != "" && r.Status != StatusFailed {
		return fmt.Errorf("error message set on %s record", r.Status)
	}
	return nil
}

var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusReady, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed, StatusQueued},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether from -> to is allowed. Ready never leaves ready.
// processing -> queued is the dispatch-failure revert and failed -> queued the
// explicit operator re-enqueue.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkProcessing claims a queued record for a dispatch attempt.
func (r *Record) MarkProcessing(now time.Time) error {
	if r.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusProcessing)
	}
	r.Status = StatusProcessing
	r.DispatchAttempts++
	r.ProcessingStartedAt = &now
	r.UpdatedAt = now
	return nil
}

// MarkReady records successful normalization outputs and clears prior errors.
func (r *Record) MarkReady(readyKey, readyURL, thumbKey, thumbURL string, now time.Time) error {
	if r.Status != StatusReady && !CanTransition(r.Status, StatusReady) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusReady)
	}
	if readyURL == "" && readyKey == "" {
		return ErrIncompleteResult
	}
	r.Status = StatusReady
	r.ReadyKey = readyKey
	r.ReadyURL = readyURL
	if thumbKey != "" {
		r.ThumbnailKey = thumbKey
	}
	if thumbURL != "" {
		r.ThumbnailURL = thumbURL
	}
	r.ErrorMessage = ""
	r.DispatchError = ""
	r.ProcessingStartedAt = nil
	r.UpdatedAt = now
	return nil
}

// MarkFailed moves the record to the terminal failed state.
func (r *Record) MarkFailed(message string, now time.Time) error {
	if !CanTransition(r.Status, StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	message = TruncateError(message)
	if message == "" {
		message = "processing failed"
	}
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.ReadyKey = ""
	r.ReadyURL = ""
	r.ProcessingStartedAt = nil
	r.UpdatedAt = now
	return nil
}

// MarkDispatchFailed reverts a processing record to queued after the handoff
// itself failed. The record stays eligible for a later dispatch attempt.
func (r *Record) MarkDispatchFailed(message string, now time.Time) error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusQueued)
	}
	r.Status = StatusQueued
	r.DispatchError = TruncateError(message)
	r.ProcessingStartedAt = nil
	r.UpdatedAt = now
	return nil
}

// Requeue is the explicit operator re-enqueue of a failed record.
func (r *Record) Requeue(now time.Time) error {
	if r.Status != StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusQueued)
	}
	r.Status = StatusQueued
	r.ErrorMessage = ""
	r.DispatchError = ""
	r.UpdatedAt = now
	return nil
}

// TruncateError trims whitespace and bounds the stored length.
func TruncateError(msg string) string {
	return Truncate(msg, maxErrorLen)
}

// Truncate trims msg and cuts it to at most limit bytes plus an ellipsis,
// on a rune boundary.
func Truncate(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	// Don't split a multi-byte rune.
	for cut > 0 && !utf8Start(msg[cut]) {
		cut--
	}
	return msg[:cut] + "…"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
