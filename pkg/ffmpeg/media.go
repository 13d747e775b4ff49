package ffmpeg

import (
	"context"
	"strconv"
	"time"
)

// NormalizeOptions describes the delivery rendition.
type NormalizeOptions struct {
	Start        time.Duration // seek offset into the source
	MaxDuration  time.Duration // output is cut at this length, 0 keeps all
	MaxDimension int           // longer edge cap, 0 keeps the source size
}

// NormalizeArgs returns the options for a delivery rendition.
func NormalizeArgs(o NormalizeOptions) []Option {
	opts := []Option{
		Seek(o.Start),
		Duration(o.MaxDuration),
		FirstVideoOptionalAudio,
	}
	if o.MaxDimension > 0 {
		opts = append(opts, FitWithin(o.MaxDimension))
	} else {
		opts = append(opts, EvenDimensions())
	}
	opts = append(opts, PresetH264()...)
	opts = append(opts, PresetAAC()...)
	return opts
}

// Normalize transcodes input into an H.264/AAC MP4 ready for playback.
func Normalize(ctx context.Context, input, output string, o NormalizeOptions) RunResult {
	return RunCapture(ctx, input, output, NormalizeArgs(o)...)
}

// ThumbnailOptions configures poster frame extraction.
type ThumbnailOptions struct {
	Offset   time.Duration // default 1s
	MaxWidth int           // default 640
	Quality  int           // JPEG -q:v, default 4
}

// ExtractThumbnail writes a single JPEG frame.
func ExtractThumbnail(ctx context.Context, input, output string, o ThumbnailOptions) RunResult {
	if o.Offset == 0 {
		o.Offset = time.Second
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = 640
	}
	if o.Quality == 0 {
		o.Quality = 4
	}
	return RunCapture(ctx, input, output,
		Seek(o.Offset),
		Filter("scale='min(iw,"+strconv.Itoa(o.MaxWidth)+")':-2"),
		Frames(1),
		Quality(o.Quality),
	)
}

// TrimCopy cuts [start, start+length) without re-encoding. Cuts land on
// keyframes, so the result can start slightly early.
func TrimCopy(ctx context.Context, input, output string, start, length time.Duration) RunResult {
	return RunCapture(ctx, input, output,
		Seek(start),
		Duration(length),
		CopyAll,
		ExtraArgs("-avoid_negative_ts", "make_zero"),
	)
}
