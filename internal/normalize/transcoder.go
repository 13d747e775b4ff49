package normalize

import (
	"context"
	"log/slog"

	"github.com/jangbersahaja/fishon-captain-sub003/pkg/ffmpeg"
)

// Media describes a produced rendition. Zero values mean unknown.
type Media struct {
	DurationSec float64
	Width       int
	Height      int
}

// Transcoder produces the delivery rendition from a local file.
type Transcoder interface {
	Transcode(ctx context.Context, in, out string, opts ffmpeg.NormalizeOptions) (Media, error)
}

// Thumbnailer extracts a poster frame from a local file.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, in, out string) error
}

// FFmpeg implements Transcoder and Thumbnailer with the ffmpeg binaries.
type FFmpeg struct {
	ThumbnailOptions ffmpeg.ThumbnailOptions
}

var (
	_ Transcoder  = FFmpeg{}
	_ Thumbnailer = FFmpeg{}
)

func (f FFmpeg) Transcode(ctx context.Context, in, out string, opts ffmpeg.NormalizeOptions) (Media, error) {
	if res := ffmpeg.Normalize(ctx, in, out, opts); res.Err != nil {
		return Media{}, res.Err
	}

	// The rendition exists; a failed probe only loses metadata.
	p, err := ffmpeg.Probe(ctx, out)
	if err != nil {
		slog.Warn("failed to probe normalized output", "path", out, "error", err)
		return Media{}, nil
	}
	return Media{DurationSec: p.Duration, Width: p.DisplayWidth(), Height: p.DisplayHeight()}, nil
}

func (f FFmpeg) Thumbnail(ctx context.Context, in, out string) error {
	return ffmpeg.ExtractThumbnail(ctx, in, out, f.ThumbnailOptions).Err
}
