// Package precheck inspects a local video before upload and cuts it to the
// requested window when it can.
package precheck

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/jangbersahaja/fishon-captain-sub003/pkg/ffmpeg"
)

// DefaultMaxClip is the hard cap on a clip's length.
const DefaultMaxClip = 30 * time.Second

// Window is the user's requested selection. Zero End means "as much as the
// cap allows".
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Probe is what inspection learns about a file.
type Probe struct {
	DurationSec float64
	Width       int
	Height      int
}

// Result is the file to upload plus the metadata that goes with it.
type Result struct {
	Trim videos.Trim
	Path string
	// Trimmed is true when Path is a temp file holding only the window.
	Trimmed bool
}

// Cleanup removes the temp file of a trimmed result.
func (r Result) Cleanup() {
	if r.Trimmed {
		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove trimmed clip", "path", r.Path, "error", err)
		}
	}
}

type (
	InspectFunc func(ctx context.Context, path string) (Probe, error)
	TrimFunc    func(ctx context.Context, in, out string, start, length time.Duration) error
)

// Prechecker decides the window and trims. The zero value is not usable;
// call New.
type Prechecker struct {
	MaxClip time.Duration
	TempDir string
	Inspect InspectFunc
	Trim    TrimFunc
}

func New(maxClip time.Duration) *Prechecker {
	if maxClip <= 0 {
		maxClip = DefaultMaxClip
	}
	return &Prechecker{
		MaxClip: maxClip,
		Inspect: FFprobeInspect,
		Trim:    FFmpegTrim,
	}
}

// FFprobeInspect reads duration and display size with ffprobe.
func FFprobeInspect(ctx context.Context, path string) (Probe, error) {
	p, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		return Probe{}, err
	}
	return Probe{DurationSec: p.Duration, Width: p.DisplayWidth(), Height: p.DisplayHeight()}, nil
}

// FFmpegTrim stream-copies the window.
func FFmpegTrim(ctx context.Context, in, out string, start, length time.Duration) error {
	return ffmpeg.TrimCopy(ctx, in, out, start, length).Err
}

// Prepare never fails: every problem degrades to uploading the original with
// DidFallback set.
func (p *Prechecker) Prepare(ctx context.Context, path string, w Window) Result {
	probe, err := p.Inspect(ctx, path)
	if err != nil || probe.DurationSec <= 0 {
		reason := "inspect failed"
		if err != nil {
			reason = fmt.Sprintf("inspect failed: %v", err)
		}
		slog.Warn("precheck could not inspect video, uploading original", "path", path, "error", err)
		return Result{
			Path: path,
			Trim: videos.Trim{DidFallback: true, FallbackReason: shorten(reason)},
		}
	}

	start, end := p.clamp(w, probe.DurationSec)

	trim := videos.Trim{
		StartSec:            start,
		EndSec:              &end,
		OriginalDurationSec: &probe.DurationSec,
	}
	if probe.Width > 0 && probe.Height > 0 {
		trim.Width = &probe.Width
		trim.Height = &probe.Height
	}

	// Already inside the window: upload as is.
	if start == 0 && end >= probe.DurationSec {
		return Result{Path: path, Trim: trim}
	}

	out, err := p.tempPath(path)
	if err == nil {
		err = p.Trim(ctx, path, out, ffmpeg.Seconds(start), ffmpeg.Seconds(end-start))
		if err != nil {
			os.Remove(out)
		}
	}
	if err != nil {
		slog.Warn("precheck trim failed, uploading original", "path", path, "error", err)
		trim.DidFallback = true
		trim.FallbackReason = shorten(fmt.Sprintf("trim failed: %v", err))
		return Result{Path: path, Trim: trim}
	}

	return Result{Path: out, Trim: trim, Trimmed: true}
}

// clamp fits the requested window inside the source and the cap.
func (p *Prechecker) clamp(w Window, duration float64) (float64, float64) {
	maxSec := p.MaxClip.Seconds()
	start := math.Max(0, w.Start.Seconds())
	if start >= duration {
		start = 0
	}
	end := w.End.Seconds()
	if end <= start || end > duration {
		end = duration
	}
	if end-start > maxSec {
		end = start + maxSec
	}
	return round3(start), round3(end)
}

func (p *Prechecker) tempPath(src string) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".mp4"
	}
	f, err := os.CreateTemp(p.TempDir, "precheck-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func shorten(s string) string {
	return videos.Truncate(s, 200)
}
