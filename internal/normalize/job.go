// Package normalize turns an uploaded original into the 720p delivery
// rendition and its thumbnail.
package normalize

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/jangbersahaja/fishon-captain-sub003/pkg/ffmpeg"
)

// Job is the unit of work handed to a worker. It is the JSON body of the
// worker endpoint and of broker messages.
type Job struct {
	VideoID            string  `json:"videoId"`
	OwnerID            string  `json:"ownerId"`
	OriginalKey        string  `json:"originalKey,omitempty"`
	OriginalURL        string  `json:"originalUrl"`
	StartSec           float64 `json:"startSec"`
	MaxDurationSec     float64 `json:"maxDurationSec"`
	TargetMaxDimension int     `json:"targetMaxDimension"`
}

// NewJob builds the job for a record under the given limits.
func NewJob(r *videos.Record, maxDurationSec float64, maxDimension int) Job {
	return Job{
		VideoID:            r.ID,
		OwnerID:            r.OwnerID,
		OriginalKey:        r.OriginalKey,
		OriginalURL:        r.OriginalURL,
		StartSec:           r.TrimStartSec,
		MaxDurationSec:     maxDurationSec,
		TargetMaxDimension: maxDimension,
	}
}

func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.VideoID) == "":
		return errors.New("videoId is required")
	case strings.TrimSpace(j.OwnerID) == "":
		return errors.New("ownerId is required")
	case j.OriginalKey == "" && j.OriginalURL == "":
		return errors.New("originalKey or originalUrl is required")
	case j.OriginalKey != "" && !videos.OwnsKey(j.OwnerID, j.OriginalKey):
		return fmt.Errorf("originalKey %q is outside the owner namespace", j.OriginalKey)
	case j.StartSec < 0:
		return errors.New("startSec must be >= 0")
	case j.MaxDurationSec < 0:
		return errors.New("maxDurationSec must be >= 0")
	case j.TargetMaxDimension < 0:
		return errors.New("targetMaxDimension must be >= 0")
	}
	return nil
}

// Options converts the job limits into transcoder options.
func (j Job) Options() ffmpeg.NormalizeOptions {
	return ffmpeg.NormalizeOptions{
		Start:        ffmpeg.Seconds(j.StartSec),
		MaxDuration:  ffmpeg.Seconds(j.MaxDurationSec),
		MaxDimension: j.TargetMaxDimension,
	}
}

// sourceExt guesses the container extension of the original so ffmpeg can
// sniff it from the temp file name.
func (j Job) sourceExt() string {
	for _, p := range []string{j.OriginalKey, urlPath(j.OriginalURL)} {
		if ext := strings.ToLower(path.Ext(p)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".mp4"
}

func urlPath(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// defaultTimeout bounds one job when the caller's context has no deadline.
const defaultTimeout = 10 * time.Minute
