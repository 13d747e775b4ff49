package videos

import (
	"errors"
	"time"
)

var (
	// ErrAmbiguousResult is returned when a result carries neither success nor ok.
	ErrAmbiguousResult = errors.New("result has neither success nor ok flag")
	// ErrIncompleteResult is a success that names no output.
	ErrIncompleteResult = errors.New("successful result has no ready url or key")
)

// Result is what a normalization worker reports for one record.
type Result struct {
	VideoID      string  `json:"videoId,omitempty"`
	Success      *bool   `json:"success,omitempty"`
	OK           *bool   `json:"ok,omitempty"`
	ReadyURL     string  `json:"readyUrl,omitempty"`
	ReadyKey     string  `json:"readyKey,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	ThumbnailKey string  `json:"thumbnailKey,omitempty"`
	Error        string  `json:"error,omitempty"`
	DurationSec  float64 `json:"durationSec,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
}

// Succeeded resolves the success/ok flags. known is false when neither is set.
func (r Result) Succeeded() (ok bool, known bool) {
	if r.Success != nil {
		return *r.Success, true
	}
	if r.OK != nil {
		return *r.OK, true
	}
	return false, false
}

// SuccessResult builds a successful result.
func SuccessResult(videoID, readyKey, readyURL, thumbKey, thumbURL string) Result {
	t := true
	return Result{
		VideoID:      videoID,
		Success:      &t,
		ReadyKey:     readyKey,
		ReadyURL:     readyURL,
		ThumbnailKey: thumbKey,
		ThumbnailURL: thumbURL,
	}
}

// FailureResult builds a failed result.
func FailureResult(videoID, message string) Result {
	f := false
	return Result{VideoID: videoID, Success: &f, Error: message}
}

// Merge describes what ApplyResult did.
type Merge struct {
	// Applied is true when the record changed state.
	Applied bool
	// Idempotent is true when the record was already final and only missing
	// fields (if any) were filled in.
	Idempotent bool
	// Changed is true when any field was written.
	Changed bool
}

// ApplyResult folds a worker result into the record in place.
//
// A record that is already ready only gains fields it is missing; a repeated
// or late result never clears outputs or moves it backwards. A failed record
// is final, except that a success arriving after the reaper timed it out wins.
func ApplyResult(r *Record, res Result, now time.Time) (Merge, error) {
	success, known := res.Succeeded()
	if !known {
		return Merge{}, ErrAmbiguousResult
	}
	hasOutput := res.ReadyURL != "" || res.ReadyKey != ""

	switch r.Status {
	case StatusReady:
		m := Merge{Idempotent: true}
		if success {
			if r.ThumbnailURL == "" && res.ThumbnailURL != "" {
				r.ThumbnailURL = res.ThumbnailURL
				m.Changed = true
			}
			if r.ThumbnailKey == "" && res.ThumbnailKey != "" {
				r.ThumbnailKey = res.ThumbnailKey
				m.Changed = true
			}
			if r.ReadyKey == "" && res.ReadyKey != "" {
				r.ReadyKey = res.ReadyKey
				m.Changed = true
			}
			if r.ReadyURL == "" && res.ReadyURL != "" {
				r.ReadyURL = res.ReadyURL
				m.Changed = true
			}
			if m.Changed {
				r.UpdatedAt = now
			}
		}
		return m, nil

	case StatusFailed:
		if success && r.ErrorMessage == TimeoutMessage && hasOutput {
			r.Status = StatusProcessing
			if err := r.MarkReady(res.ReadyKey, res.ReadyURL, res.ThumbnailKey, res.ThumbnailURL, now); err != nil {
				return Merge{}, err
			}
			return Merge{Applied: true, Changed: true}, nil
		}
		return Merge{Idempotent: true}, nil
	}

	if success && !hasOutput {
		return Merge{}, ErrIncompleteResult
	}
	if success {
		if err := r.MarkReady(res.ReadyKey, res.ReadyURL, res.ThumbnailKey, res.ThumbnailURL, now); err != nil {
			return Merge{}, err
		}
	} else {
		if err := r.MarkFailed(res.Error, now); err != nil {
			return Merge{}, err
		}
	}
	return Merge{Applied: true, Changed: true}, nil
}
