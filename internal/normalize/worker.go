package normalize

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/microcosm-cc/bluemonday"
	"resty.dev/v3"
)

var errEmptyOutput = errors.New("transcoder produced an empty file")

// Worker runs normalization jobs against an object store. A Worker is safe
// for concurrent use; each Run works in its own temp directory.
type Worker struct {
	objects     objectstore.Store
	transcoder  Transcoder
	thumbnailer Thumbnailer
	http        *resty.Client

	// WorkDir is the parent of per-job temp directories. Empty means the
	// system temp dir.
	WorkDir string
}

func NewWorker(objects objectstore.Store, transcoder Transcoder, thumbnailer Thumbnailer) *Worker {
	return &Worker{
		objects:     objects,
		transcoder:  transcoder,
		thumbnailer: thumbnailer,
		http:        resty.New(),
	}
}

// Close releases the download client.
func (w *Worker) Close() error {
	return w.http.Close()
}

// Run normalizes one original. It never returns an error: every failure is
// reported as an unsuccessful Result. The job's temp directory is removed on
// every path.
func (w *Worker) Run(ctx context.Context, job Job) videos.Result {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	started := time.Now()
	metrics.NormalizeActive.Inc()
	defer metrics.NormalizeActive.Dec()

	logger := slog.With("video_id", job.VideoID, "owner_id", job.OwnerID)

	res, err := w.run(ctx, logger, job)
	metrics.NormalizeDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.NormalizeResults.WithLabelValues("failed").Inc()
		logger.Error("normalization failed", "error", err, "took", time.Since(started))
		return videos.FailureResult(job.VideoID, sanitizeError(err))
	}

	metrics.NormalizeResults.WithLabelValues("ready").Inc()
	logger.Info("normalization finished", "ready_key", res.ReadyKey, "thumbnail", res.ThumbnailKey != "", "took", time.Since(started))
	return res
}

func (w *Worker) run(ctx context.Context, logger *slog.Logger, job Job) (videos.Result, error) {
	if err := job.Validate(); err != nil {
		return videos.Result{}, fmt.Errorf("invalid job: %w", err)
	}

	dir, err := os.MkdirTemp(w.WorkDir, "normalize-*")
	if err != nil {
		return videos.Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove work dir", "dir", dir, "error", err)
		}
	}()

	src := filepath.Join(dir, "source"+job.sourceExt())
	size, err := w.download(ctx, job, src)
	if err != nil {
		return videos.Result{}, wrapInDir(dir, fmt.Errorf("download original: %w", err))
	}
	logger.Info("downloaded original", "size", humanize.Bytes(uint64(size)))

	out := filepath.Join(dir, "720p.mp4")
	media, err := w.transcoder.Transcode(ctx, src, out, job.Options())
	if err != nil {
		return videos.Result{}, wrapInDir(dir, fmt.Errorf("transcode: %w", err))
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return videos.Result{}, errEmptyOutput
	}

	thumb := filepath.Join(dir, "thumb.jpg")
	hasThumb := true
	if err := w.thumbnailer.Thumbnail(ctx, out, thumb); err != nil {
		logger.Warn("thumbnail extraction failed, continuing without one", "error", err)
		hasThumb = false
	}

	ready, err := w.upload(ctx, out, videos.ReadyKey(job.OwnerID, job.VideoID), "video/mp4")
	if err != nil {
		return videos.Result{}, fmt.Errorf("upload rendition: %w", err)
	}
	logger.Info("uploaded rendition", "key", ready.Key, "size", humanize.Bytes(uint64(ready.Size)))

	var thumbObj objectstore.Object
	if hasThumb {
		thumbObj, err = w.upload(ctx, thumb, videos.ThumbnailKey(job.OwnerID, job.VideoID), "image/jpeg")
		if err != nil {
			logger.Warn("thumbnail upload failed, continuing without one", "error", err)
			thumbObj = objectstore.Object{}
		}
	}

	res := videos.SuccessResult(job.VideoID, ready.Key, ready.URL, thumbObj.Key, thumbObj.URL)
	res.DurationSec = media.DurationSec
	res.Width = media.Width
	res.Height = media.Height
	return res, nil
}

// download fetches the original from the object store, falling back to its
// URL when the key is unknown to this store.
func (w *Worker) download(ctx context.Context, job Job, dst string) (int64, error) {
	if job.OriginalKey != "" && w.objects != nil {
		rc, err := w.objects.Get(ctx, job.OriginalKey)
		if err == nil {
			defer rc.Close()
			return writeFile(dst, rc)
		}
		if job.OriginalURL == "" {
			return 0, err
		}
		slog.Debug("original not readable from object store, fetching url", "key", job.OriginalKey, "error", err)
	}

	resp, err := w.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(job.OriginalURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, fmt.Errorf("GET original: status %d", resp.StatusCode())
	}
	return writeFile(dst, resp.Body)
}

func (w *Worker) upload(ctx context.Context, path, key, contentType string) (objectstore.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return objectstore.Object{}, err
	}
	defer f.Close()
	return w.objects.Put(ctx, key, f, objectstore.PutOptions{ContentType: contentType, Public: true})
}

func writeFile(dst string, r io.Reader) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("original is empty")
	}
	return n, err
}

// wrapInDir hides the temp directory from messages that end up on records.
func wrapInDir(dir string, err error) error {
	return &dirError{dir: dir, err: err}
}

type dirError struct {
	dir string
	err error
}

func (e *dirError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.dir+string(filepath.Separator), "")
}

func (e *dirError) Unwrap() error { return e.err }

var strict = bluemonday.StrictPolicy()

// sanitizeError strips markup from tool output before it is stored and
// bounds its length.
func sanitizeError(err error) string {
	msg := html.UnescapeString(strict.Sanitize(err.Error()))
	msg = strings.Join(strings.Fields(msg), " ")
	return videos.TruncateError(msg)
}
