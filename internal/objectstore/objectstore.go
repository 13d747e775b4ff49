// Package objectstore stores originals, normalized outputs and thumbnails.
package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var ErrNotFound = errors.New("object not found")

// Object is a stored object and the URL it is served from.
type Object struct {
	Key  string
	URL  string
	Size int64
}

type PutOptions struct {
	ContentType string
	Public      bool
	// Size is the body length when known; zero means unknown.
	Size int64
}

// Store is the object storage used by every pipeline stage.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	URL(key string) string
}

// joinURL appends a key to a base URL, escaping each path segment.
func joinURL(base, key string) string {
	segs := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segs, "/")
}
