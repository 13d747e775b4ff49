// Package callback applies normalization results delivered by a broker or
// a worker to video records.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/patrickmn/go-cache"
)

// Mode decides what happens to a callback whose signature does not verify.
type Mode string

const (
	// ModeSoft logs the failure and processes the callback anyway.
	ModeSoft Mode = "soft"
	// ModeStrict rejects it.
	ModeStrict Mode = "strict"
)

// HeaderMessageID identifies a broker delivery.
const HeaderMessageID = "Upstash-Message-Id"

const dedupeWindow = 10 * time.Minute

var (
	ErrUnauthorized = errors.New("callback signature rejected")
	ErrMissingID    = errors.New("callback has no video id")
)

// Request is one received callback.
type Request struct {
	Body      []byte
	Signature string
	MessageID string
	// URL is the public callback URL the signature subject must match.
	// Empty skips the subject check.
	URL string
}

// Response is returned to the caller as JSON.
type Response struct {
	OK         bool          `json:"ok"`
	VideoID    string        `json:"videoId,omitempty"`
	Status     videos.Status `json:"status,omitempty"`
	Idempotent bool          `json:"idempotent,omitempty"`
	Duplicate  bool          `json:"duplicate,omitempty"`
}

type Receiver struct {
	store    videos.Store
	verifier *signature.Verifier
	mode     Mode
	seen     *cache.Cache

	Now func() time.Time
}

func NewReceiver(store videos.Store, verifier *signature.Verifier, mode Mode) *Receiver {
	if mode != ModeStrict {
		mode = ModeSoft
	}
	return &Receiver{
		store:    store,
		verifier: verifier,
		mode:     mode,
		seen:     cache.New(dedupeWindow, 2*dedupeWindow),
		Now:      time.Now,
	}
}

// Mode returns the verification mode in effect.
func (r *Receiver) Mode() Mode {
	return r.mode
}

// Handle verifies, decodes and applies one callback.
//
// Errors: ErrUnauthorized, ErrUndecodable, ErrMissingID,
// videos.ErrAmbiguousResult, videos.ErrIncompleteResult and
// videos.ErrNotFound are caller errors;
// anything else is a store failure.
func (r *Receiver) Handle(ctx context.Context, req Request) (Response, error) {
	if err := r.verify(req); err != nil {
		metrics.Callbacks.WithLabelValues("rejected").Inc()
		return Response{}, err
	}

	if req.MessageID != "" {
		if _, dup := r.seen.Get(req.MessageID); dup {
			metrics.Callbacks.WithLabelValues("duplicate").Inc()
			slog.Info("duplicate callback ignored", "message_id", req.MessageID)
			return Response{OK: true, Idempotent: true, Duplicate: true}, nil
		}
	}

	res, shape, err := Decode(req.Body)
	if err != nil {
		metrics.Callbacks.WithLabelValues("invalid").Inc()
		return Response{}, err
	}

	id := res.VideoID
	if id == "" {
		recovered, ok := videos.RecoverID(res.ReadyURL, res.ThumbnailURL)
		if !ok {
			metrics.Callbacks.WithLabelValues("invalid").Inc()
			return Response{}, ErrMissingID
		}
		slog.Info("recovered video id from output url", "video_id", recovered)
		id = recovered
	}

	if _, err := r.store.Get(ctx, id); err != nil {
		if errors.Is(err, videos.ErrNotFound) {
			metrics.Callbacks.WithLabelValues("not_found").Inc()
		}
		return Response{}, fmt.Errorf("load video %s: %w", id, err)
	}

	var merge videos.Merge
	rec, err := r.store.Modify(ctx, id, func(rec *videos.Record) error {
		var err error
		merge, err = videos.ApplyResult(rec, res, r.Now().UTC())
		if err == nil && !merge.Changed {
			return errUnchanged
		}
		return err
	})
	switch {
	case errors.Is(err, errUnchanged):
		if rec, err = r.store.Get(ctx, id); err != nil {
			return Response{}, fmt.Errorf("load video %s: %w", id, err)
		}
	case errors.Is(err, videos.ErrAmbiguousResult), errors.Is(err, videos.ErrIncompleteResult):
		metrics.Callbacks.WithLabelValues("invalid").Inc()
		return Response{}, err
	case err != nil:
		return Response{}, fmt.Errorf("apply result to %s: %w", id, err)
	}

	if req.MessageID != "" {
		r.seen.Set(req.MessageID, id, cache.DefaultExpiration)
	}

	outcome := "applied"
	if merge.Idempotent {
		outcome = "idempotent"
	}
	metrics.Callbacks.WithLabelValues(outcome).Inc()
	slog.Info("callback processed",
		"video_id", id,
		"status", rec.Status,
		"envelope", shape,
		"idempotent", merge.Idempotent,
		"changed", merge.Changed,
	)

	return Response{OK: true, VideoID: id, Status: rec.Status, Idempotent: merge.Idempotent}, nil
}

var errUnchanged = errors.New("unchanged")

func (r *Receiver) verify(req Request) error {
	if !r.verifier.Configured() {
		if r.mode == ModeStrict {
			metrics.SignatureChecks.WithLabelValues("unconfigured").Inc()
			slog.Error("strict callback verification without signing keys, rejecting")
			return ErrUnauthorized
		}
		metrics.SignatureChecks.WithLabelValues("skipped").Inc()
		return nil
	}

	err := r.verifier.Verify(req.Signature, req.URL, req.Body)
	switch {
	case err == nil:
		metrics.SignatureChecks.WithLabelValues("valid").Inc()
		return nil
	case errors.Is(err, signature.ErrMissing):
		metrics.SignatureChecks.WithLabelValues("missing").Inc()
	default:
		metrics.SignatureChecks.WithLabelValues("invalid").Inc()
	}

	if r.mode == ModeStrict {
		slog.Warn("callback signature rejected", "error", err)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	slog.Warn("callback signature did not verify, accepting in soft mode", "error", err)
	return nil
}
