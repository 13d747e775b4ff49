package videos

import "errors"

// Trim is the client precheck outcome that travels with an upload.
//
// When DidFallback is false and a window is present, the uploaded bytes are
// already cut to the window. When DidFallback is true the original, untrimmed
// file was uploaded and StartSec/EndSec (if set) still refer to it.
type Trim struct {
	StartSec            float64  `json:"startSec"`
	EndSec              *float64 `json:"endSec,omitempty"`
	Width               *int     `json:"width,omitempty"`
	Height              *int     `json:"height,omitempty"`
	OriginalDurationSec *float64 `json:"originalDurationSec,omitempty"`
	DidFallback         bool     `json:"didFallback"`
	FallbackReason      string   `json:"fallbackReason,omitempty"`
}

// Validate rejects negative offsets and inverted windows.
func (t Trim) Validate() error {
	if t.StartSec < 0 {
		return errors.New("startSec must be >= 0")
	}
	if t.EndSec != nil && *t.EndSec <= t.StartSec {
		return errors.New("endSec must be greater than startSec")
	}
	if t.OriginalDurationSec != nil && *t.OriginalDurationSec < 0 {
		return errors.New("originalDurationSec must be >= 0")
	}
	if (t.Width != nil && *t.Width <= 0) || (t.Height != nil && *t.Height <= 0) {
		return errors.New("width and height must be positive")
	}
	return nil
}

// WindowSec is endSec - startSec when a window was chosen.
func (t Trim) WindowSec() (float64, bool) {
	if t.EndSec == nil {
		return 0, false
	}
	return *t.EndSec - t.StartSec, true
}

// PendingSeekSec is the offset the worker still has to apply to the uploaded
// asset. Clients that trimmed successfully uploaded the window itself.
func (t Trim) PendingSeekSec() float64 {
	if t.DidFallback {
		return t.StartSec
	}
	return 0
}

// Dimensions returns the observed size when both edges are known.
func (t Trim) Dimensions() (w, h int, ok bool) {
	if t.Width == nil || t.Height == nil {
		return 0, 0, false
	}
	return *t.Width, *t.Height, true
}
