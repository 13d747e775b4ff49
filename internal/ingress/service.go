package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/jangbersahaja/fishon-captain-sub003/pkg/ffmpeg"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("original key is outside the caller's namespace")
)

// maxThumbnailBytes bounds an ingress-provided poster image.
const maxThumbnailBytes = 5 << 20

// CreateRequest is the ingress input. The original is already in the object
// store; only its reference arrives here.
type CreateRequest struct {
	OriginalKey string      `json:"originalKey" validate:"required,max=1024"`
	OriginalURL string      `json:"originalUrl" validate:"required,url,max=2048"`
	CharterID   *string     `json:"charterId,omitempty" validate:"omitempty,max=64"`
	Trim        videos.Trim `json:"trim"`

	Thumbnail            []byte `json:"-"`
	ThumbnailContentType string `json:"-"`
}

// MediaInfo is the server-side probe of an original.
type MediaInfo struct {
	DurationSec float64
	Width       int
	Height      int
}

type ProbeFunc func(ctx context.Context, url string) (MediaInfo, error)

// Dispatcher starts normalization without blocking the caller.
type Dispatcher interface {
	DispatchAsync(id string)
}

// FFprobe probes a URL with ffprobe.
func FFprobe(ctx context.Context, url string) (MediaInfo, error) {
	p, err := ffmpeg.Probe(ctx, url)
	if err != nil {
		return MediaInfo{}, err
	}
	return MediaInfo{DurationSec: p.Duration, Width: p.DisplayWidth(), Height: p.DisplayHeight()}, nil
}

type Service struct {
	store      videos.Store
	objects    objectstore.Store
	dispatcher Dispatcher
	policy     Policy
	probe      ProbeFunc
	validate   *validator.Validate

	ProbeTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
}

func NewService(store videos.Store, objects objectstore.Store, dispatcher Dispatcher, policy Policy, probe ProbeFunc) *Service {
	return &Service{
		store:        store,
		objects:      objects,
		dispatcher:   dispatcher,
		policy:       policy,
		probe:        probe,
		validate:     validator.New(),
		ProbeTimeout: 20 * time.Second,
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// Policy returns the configured bypass policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Create validates, authorizes and persists a new record. The record is in
// the store before Create returns; dispatch of a queued record happens in
// the background.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*videos.Record, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrValidation)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := req.Trim.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(req.Thumbnail) > maxThumbnailBytes {
		return nil, fmt.Errorf("%w: thumbnail larger than %d bytes", ErrValidation, maxThumbnailBytes)
	}
	if !videos.OwnsKey(ownerID, req.OriginalKey) {
		return nil, ErrForbidden
	}
	originalURL, err := s.originalURL(req)
	if err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	rec := &videos.Record{
		ID:                  s.NewID(),
		OwnerID:             ownerID,
		CharterID:           req.CharterID,
		OriginalKey:         req.OriginalKey,
		OriginalURL:         originalURL,
		ClipStartSec:        req.Trim.StartSec,
		TrimStartSec:        req.Trim.PendingSeekSec(),
		OriginalDurationSec: req.Trim.OriginalDurationSec,
		OriginalWidth:       req.Trim.Width,
		OriginalHeight:      req.Trim.Height,
		DidFallback:         req.Trim.DidFallback,
		FallbackReason:      req.Trim.FallbackReason,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if len(req.Thumbnail) > 0 && s.objects != nil {
		s.storeThumbnail(ctx, rec, req)
	}

	facts := s.facts(ctx, rec, req.Trim)
	decision := s.policy.Decide(facts)
	if decision.Bypass {
		rec.Status = videos.StatusReady
		rec.ReadyKey = rec.OriginalKey
		rec.ReadyURL = rec.OriginalURL
	} else {
		rec.Status = videos.StatusQueued
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create video record: %w", err)
	}

	metrics.IngestDecisions.WithLabelValues(string(rec.Status)).Inc()
	slog.Info("video record created",
		"video_id", rec.ID,
		"owner_id", ownerID,
		"status", rec.Status,
		"reason", decision.Reason,
		"did_fallback", rec.DidFallback,
	)

	if rec.Status == videos.StatusQueued && s.dispatcher != nil {
		s.dispatcher.DispatchAsync(rec.ID)
	}
	return rec, nil
}

// originalURL is where the original is served from. A store derives it
// from the key; without one the caller's URL must name that key.
func (s *Service) originalURL(req CreateRequest) (string, error) {
	if s.objects != nil {
		if derived := s.objects.URL(req.OriginalKey); derived != "" {
			if derived != req.OriginalURL {
				slog.Warn("original url differs from stored object url, using the store's",
					"original_key", req.OriginalKey,
					"original_url", req.OriginalURL,
				)
			}
			return derived, nil
		}
	}
	u, err := url.Parse(req.OriginalURL)
	if err != nil || !strings.HasSuffix(u.Path, "/"+strings.TrimLeft(req.OriginalKey, "/")) {
		return "", fmt.Errorf("%w: originalUrl does not reference originalKey", ErrValidation)
	}
	return req.OriginalURL, nil
}

// facts resolves the effective duration: the trimmed window when the client
// trimmed, the observed original duration when it fell back, otherwise a
// server-side probe.
func (s *Service) facts(ctx context.Context, rec *videos.Record, trim videos.Trim) Facts {
	f := Facts{
		Width:          trim.Width,
		Height:         trim.Height,
		PendingSeekSec: trim.PendingSeekSec(),
	}

	if w, ok := trim.WindowSec(); ok && !trim.DidFallback {
		f.DurationSec = &w
		return f
	}
	if trim.DidFallback && trim.OriginalDurationSec != nil {
		d := *trim.OriginalDurationSec - trim.StartSec
		f.DurationSec = &d
		return f
	}
	if trim.OriginalDurationSec != nil {
		f.DurationSec = trim.OriginalDurationSec
		return f
	}

	// A worker normalizes everything anyway; skip the probe.
	if s.probe == nil || s.policy.WorkerConfigured {
		return f
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.ProbeTimeout)
	defer cancel()
	info, err := s.probe(probeCtx, rec.OriginalURL)
	if err != nil || info.DurationSec <= 0 {
		slog.Warn("probe of original failed, treating duration as unknown", "video_id", rec.ID, "error", err)
		return f
	}

	d := info.DurationSec
	f.DurationSec = &d
	rec.OriginalDurationSec = &d
	if info.Width > 0 && info.Height > 0 {
		w, h := info.Width, info.Height
		f.Width, f.Height = &w, &h
		rec.OriginalWidth, rec.OriginalHeight = &w, &h
	}
	return f
}

// storeThumbnail is best effort: a failure leaves the record without one.
func (s *Service) storeThumbnail(ctx context.Context, rec *videos.Record, req CreateRequest) {
	ct := req.ThumbnailContentType
	if ct == "" {
		ct = http.DetectContentType(req.Thumbnail)
	}
	key := videos.ThumbnailKey(rec.OwnerID, rec.ID)
	obj, err := s.objects.Put(ctx, key, bytes.NewReader(req.Thumbnail), objectstore.PutOptions{ContentType: ct, Public: true})
	if err != nil {
		slog.Warn("failed to store ingress thumbnail", "video_id", rec.ID, "error", err)
		return
	}
	rec.ThumbnailKey = obj.Key
	rec.ThumbnailURL = obj.URL
}
