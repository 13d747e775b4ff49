package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

const videoColumns = `id::text, owner_id, charter_id, original_key, original_url,
	clip_start_sec, trim_start_sec, original_duration_sec, original_width, original_height,
	process_status::text, ready_key, ready_url, thumbnail_key, thumbnail_url,
	error_message, dispatch_error, did_fallback, fallback_reason,
	dispatch_attempts, processing_started_at, created_at, updated_at`

// VideoStore is the Postgres implementation of videos.Store.
type VideoStore struct {
	dbc *DatabaseConnection
}

var _ videos.Store = (*VideoStore)(nil)

func NewVideoStore(dbc *DatabaseConnection) *VideoStore {
	return &VideoStore{dbc: dbc}
}

func (s *VideoStore) Create(ctx context.Context, r *videos.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.dbc.Exec(ctx, `INSERT INTO videos (
		id, owner_id, charter_id, original_key, original_url,
		clip_start_sec, trim_start_sec, original_duration_sec, original_width, original_height,
		process_status, ready_key, ready_url, thumbnail_key, thumbnail_url,
		error_message, dispatch_error, did_fallback, fallback_reason,
		dispatch_attempts, processing_started_at, created_at, updated_at
	) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::video_status, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23)`,
		r.ID, r.OwnerID, TextPtr(r.CharterID), r.OriginalKey, r.OriginalURL,
		r.ClipStartSec, r.TrimStartSec, Float8Ptr(r.OriginalDurationSec), Int4Ptr(r.OriginalWidth), Int4Ptr(r.OriginalHeight),
		string(r.Status), r.ReadyKey, r.ReadyURL, r.ThumbnailKey, r.ThumbnailURL,
		r.ErrorMessage, r.DispatchError, r.DidFallback, r.FallbackReason,
		r.DispatchAttempts, TimestamptzPtr(r.ProcessingStartedAt), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("video %s already exists: %w", r.ID, err)
		}
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

func (s *VideoStore) Get(ctx context.Context, id string) (*videos.Record, error) {
	row := s.dbc.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1::uuid`, id)
	r, err := scanVideo(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// Modify locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// mutable columns back in the same transaction.
func (s *VideoStore) Modify(ctx context.Context, id string, fn func(r *videos.Record) error) (*videos.Record, error) {
	var out *videos.Record
	err := s.dbc.InTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1::uuid FOR UPDATE`, id)
		r, err := scanVideo(row)
		if err != nil {
			return notFound(err)
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE videos SET
			trim_start_sec = $2,
			process_status = $3::video_status,
			ready_key = $4, ready_url = $5,
			thumbnail_key = $6, thumbnail_url = $7,
			error_message = $8, dispatch_error = $9,
			dispatch_attempts = $10, processing_started_at = $11,
			updated_at = $12
			WHERE id = $1::uuid`,
			r.ID, r.TrimStartSec, string(r.Status),
			r.ReadyKey, r.ReadyURL, r.ThumbnailKey, r.ThumbnailURL,
			r.ErrorMessage, r.DispatchError,
			r.DispatchAttempts, TimestamptzPtr(r.ProcessingStartedAt),
			r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update video: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *VideoStore) ListByStatus(ctx context.Context, status videos.Status, updatedBefore time.Time, limit int) ([]*videos.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.dbc.Query(ctx, `SELECT `+videoColumns+` FROM videos
		WHERE process_status = $1::video_status AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3`, string(status), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list videos by status: %w", err)
	}
	return collectVideos(rows)
}

func (s *VideoStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*videos.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.dbc.Query(ctx, `SELECT `+videoColumns+` FROM videos
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list videos by owner: %w", err)
	}
	return collectVideos(rows)
}

func collectVideos(rows pgx.Rows) ([]*videos.Record, error) {
	defer rows.Close()
	var out []*videos.Record
	for rows.Next() {
		r, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return out, nil
}

func scanVideo(row pgx.Row) (*videos.Record, error) {
	var (
		r         videos.Record
		status    string
		charterID pgtype.Text
		duration  pgtype.Float8
		width     pgtype.Int4
		height    pgtype.Int4
		startedAt pgtype.Timestamptz
		attempts  int32
	)
	err := row.Scan(
		&r.ID, &r.OwnerID, &charterID, &r.OriginalKey, &r.OriginalURL,
		&r.ClipStartSec, &r.TrimStartSec, &duration, &width, &height,
		&status, &r.ReadyKey, &r.ReadyURL, &r.ThumbnailKey, &r.ThumbnailURL,
		&r.ErrorMessage, &r.DispatchError, &r.DidFallback, &r.FallbackReason,
		&attempts, &startedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = videos.Status(status)
	r.CharterID = NilTextPtr(charterID)
	r.OriginalDurationSec = NilFloatPtr(duration)
	r.OriginalWidth = NilIntPtr(width)
	r.OriginalHeight = NilIntPtr(height)
	r.ProcessingStartedAt = NilTimePtr(startedAt)
	r.DispatchAttempts = int(attempts)
	return &r, nil
}

// notFound maps missing rows and malformed ids onto videos.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || IsInvalidTextRepresentation(err) {
		return videos.ErrNotFound
	}
	return err
}
