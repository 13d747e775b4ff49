// Package fileserver serves objects from a non-S3 object store so that
// originals and outputs have reachable URLs in local setups.
package fileserver

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/labstack/echo/v4"
)

// ContentTyper is implemented by stores that remember content types.
type ContentTyper interface {
	ContentType(key string) (string, bool)
}

// etagCache memoizes ETags by key and size. Objects are written once per
// key in this pipeline, so size is a good enough validity check.
type etagCache struct {
	mu      sync.RWMutex
	entries map[string]etagEntry
}

type etagEntry struct {
	size int
	etag string
}

func (c *etagCache) get(key string, data []byte) string {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.size == len(data) {
		return e.etag
	}

	sum := sha256.Sum256(data)
	etag := fmt.Sprintf(`"%x"`, sum[:16])

	c.mu.Lock()
	c.entries[key] = etagEntry{size: len(data), etag: etag}
	c.mu.Unlock()
	return etag
}

// FileServer serves GET /objects/* from the store.
type FileServer struct {
	store objectstore.Store
	etags *etagCache
}

func NewFileServer(store objectstore.Store) *FileServer {
	return &FileServer{store: store, etags: &etagCache{entries: map[string]etagEntry{}}}
}

// Handle serves one object with Range and conditional request support.
func (fs *FileServer) Handle(c echo.Context) error {
	key := strings.TrimPrefix(path.Clean("/"+c.Param("*")), "/")
	if key == "" || key == "." {
		return common.ErrNotFound("object not found")
	}

	rc, err := fs.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return common.ErrNotFound("object not found")
		}
		return common.MapError(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return common.ErrInternal("failed to read object")
	}

	w := c.Response()
	if ct, ok := fs.store.(ContentTyper); ok {
		if v, found := ct.ContentType(key); found && v != "" {
			w.Header().Set(echo.HeaderContentType, v)
		}
	}
	w.Header().Set("ETag", fs.etags.get(key, data))
	w.Header().Set("Cache-Control", "public, max-age=3600")

	http.ServeContent(w, c.Request(), path.Base(key), time.Time{}, bytes.NewReader(data))
	return nil
}
