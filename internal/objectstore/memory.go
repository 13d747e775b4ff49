package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps objects in memory. Used in tests and when no bucket is
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStore{baseURL: baseURL, objects: map[string]memObject{}}
}

func (m *MemoryStore) URL(key string) string {
	return joinURL(m.baseURL, key)
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: opts.ContentType}
	m.mu.Unlock()
	return Object{Key: key, URL: m.URL(key), Size: int64(len(data))}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	o, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, URL: m.URL(k), Size: int64(len(o.data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryStore) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o.contentType, ok
}
