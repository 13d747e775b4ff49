// Package ingress turns an uploaded object into a VideoRecord and decides
// whether it can skip normalization.
package ingress

import "fmt"

// Policy holds the limits a bypassed original must already satisfy.
type Policy struct {
	MaxClipSeconds     float64
	TargetMaxDimension int
	// WorkerConfigured forces normalization so every output comes from the
	// same encoder.
	WorkerConfigured bool
}

// Facts is what is known about an upload when the record is created.
type Facts struct {
	DurationSec    *float64
	Width, Height  *int
	PendingSeekSec float64
}

// Decision is the outcome of Decide. Reason is for logs.
type Decision struct {
	Bypass bool
	Reason string
}

// Decide returns bypass only when the original is provably within policy.
// Anything unknown or doubtful goes to the queue.
func (p Policy) Decide(f Facts) Decision {
	if p.WorkerConfigured {
		return Decision{Reason: "worker configured"}
	}
	if f.DurationSec == nil {
		return Decision{Reason: "duration unknown"}
	}
	if *f.DurationSec > p.MaxClipSeconds {
		return Decision{Reason: fmt.Sprintf("duration %.2fs over %.0fs cap", *f.DurationSec, p.MaxClipSeconds)}
	}
	if f.PendingSeekSec > 0 {
		return Decision{Reason: "untrimmed seek offset pending"}
	}
	if f.Width != nil && f.Height != nil && p.TargetMaxDimension > 0 {
		if longest := max(*f.Width, *f.Height); longest > p.TargetMaxDimension {
			return Decision{Reason: fmt.Sprintf("longest edge %d over %d", longest, p.TargetMaxDimension)}
		}
	}
	return Decision{Bypass: true, Reason: "within policy"}
}
