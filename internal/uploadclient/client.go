// Package uploadclient is the uploader side of ingestion: precheck a local
// file, put it in the object store and register it with the ingress API.
package uploadclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/precheck"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/uploadqueue"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"resty.dev/v3"
)

// Item metadata keys understood by Upload.
const (
	MetaStart     = "start"
	MetaEnd       = "end"
	MetaCharterID = "charterId"
)

// DefaultMaxBytes bounds a single upload.
const DefaultMaxBytes = 500 << 20

// Preparer trims a file before upload. *precheck.Prechecker implements it.
type Preparer interface {
	Prepare(ctx context.Context, path string, w precheck.Window) precheck.Result
}

// APIError is the JSON error body of the ingress API.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ingress responded %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ingress responded %d: %s", e.Status, e.Message)
}

type Client struct {
	objects  objectstore.Store
	prepare  Preparer
	api      *resty.Client
	ownerID  string
	MaxBytes int64
}

// New builds a client. ownerID namespaces object keys and must match the
// subject of token.
func New(apiBaseURL, token, ownerID string, objects objectstore.Store, prepare Preparer) *Client {
	api := resty.New().
		SetBaseURL(strings.TrimRight(apiBaseURL, "/")).
		SetTimeout(time.Minute).
		SetHeader("Accept", "application/json")
	if token != "" {
		api.SetAuthToken(token)
	}
	return &Client{
		objects:  objects,
		prepare:  prepare,
		api:      api,
		ownerID:  ownerID,
		MaxBytes: DefaultMaxBytes,
	}
}

func (c *Client) Close() error {
	return c.api.Close()
}

// OwnerFromToken reads the subject of a bearer token without verifying it.
// The server verifies; the client only needs the namespace.
func OwnerFromToken(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Upload implements uploadqueue.Uploader.
func (c *Client) Upload(ctx context.Context, item uploadqueue.Item, progress func(sent int64)) (uploadqueue.Result, error) {
	window, err := windowFromMeta(item.Meta)
	if err != nil {
		return uploadqueue.Result{}, uploadqueue.Permanent(err)
	}

	prepared := c.prepare.Prepare(ctx, item.File.Path, window)
	defer prepared.Cleanup()

	f, err := os.Open(prepared.Path)
	if err != nil {
		return uploadqueue.Result{}, uploadqueue.Permanent(fmt.Errorf("open %s: %w", prepared.Path, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return uploadqueue.Result{}, fmt.Errorf("stat %s: %w", prepared.Path, err)
	}
	if c.MaxBytes > 0 && info.Size() > c.MaxBytes {
		return uploadqueue.Result{}, uploadqueue.Permanent(fmt.Errorf("%s is %s, limit is %s",
			item.File.Name, humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(c.MaxBytes))))
	}

	name := item.File.Name
	if name == "" {
		name = filepath.Base(item.File.Path)
	}
	key := videos.UploadKey(c.ownerID, uuid.NewString(), name)

	started := time.Now()
	obj, err := c.objects.Put(ctx, key, &progressReader{r: f, report: progress}, objectstore.PutOptions{
		ContentType: contentType(name),
		Public:      true,
		Size:        info.Size(),
	})
	if err != nil {
		return uploadqueue.Result{}, fmt.Errorf("upload original: %w", err)
	}
	slog.Info("original uploaded",
		"item_id", item.ID,
		"key", obj.Key,
		"size", humanize.Bytes(uint64(info.Size())),
		"took", time.Since(started).Round(time.Millisecond),
		"trimmed", prepared.Trimmed,
		"did_fallback", prepared.Trim.DidFallback,
	)

	req := ingress.CreateRequest{
		OriginalKey: obj.Key,
		OriginalURL: obj.URL,
		Trim:        prepared.Trim,
	}
	if charter := item.Meta[MetaCharterID]; charter != "" {
		req.CharterID = &charter
	}

	rec, err := c.Register(ctx, req)
	if err != nil {
		return uploadqueue.Result{}, err
	}

	trim := prepared.Trim
	return uploadqueue.Result{Key: obj.Key, URL: obj.URL, Record: rec, Trim: &trim}, nil
}

// Register posts an uploaded original to the ingress API.
func (c *Client) Register(ctx context.Context, req ingress.CreateRequest) (*videos.Record, error) {
	var rec videos.Record
	resp, err := c.api.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rec).
		Post("/api/videos")
	if err != nil {
		return nil, fmt.Errorf("register video: %w", err)
	}
	if resp.IsError() {
		return nil, classify(resp)
	}
	return &rec, nil
}

// Get fetches the current state of a video.
func (c *Client) Get(ctx context.Context, id string) (*videos.Record, error) {
	var rec videos.Record
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&rec).
		Get("/api/videos/{id}")
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, classify(resp)
	}
	return &rec, nil
}

// classify turns an error response into an APIError, permanent unless the
// server may accept a retry.
func classify(resp *resty.Response) error {
	apiErr := &APIError{}
	if err := json.Unmarshal([]byte(resp.String()), apiErr); err != nil {
		*apiErr = APIError{}
	}
	apiErr.Status = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	switch {
	case apiErr.Status >= 500,
		apiErr.Status == http.StatusRequestTimeout,
		apiErr.Status == http.StatusTooManyRequests:
		return apiErr
	}
	return uploadqueue.Permanent(apiErr)
}

func windowFromMeta(meta map[string]string) (precheck.Window, error) {
	var w precheck.Window
	for name, dst := range map[string]*time.Duration{MetaStart: &w.Start, MetaEnd: &w.End} {
		raw := strings.TrimSpace(meta[name])
		if raw == "" {
			continue
		}
		sec, err := strconv.ParseFloat(raw, 64)
		if err != nil || sec < 0 {
			return w, fmt.Errorf("invalid %s %q", name, raw)
		}
		*dst = time.Duration(sec * float64(time.Second))
	}
	return w, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	}
	return "video/mp4"
}

// progressReader reports bytes read. It stays seekable when r is, so the
// S3 client can rewind the body for signing and retries.
type progressReader struct {
	r      io.Reader
	sent   int64
	report func(int64)
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errors.New("body is not seekable")
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		p.sent = pos
	}
	return pos, err
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil {
			p.report(p.sent)
		}
	}
	return n, err
}
