package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://cdn.example.com")

	obj, err := s.Put(ctx, "videos/u1/abc/720p.mp4", strings.NewReader("data"), PutOptions{ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/videos/u1/abc/720p.mp4", obj.URL)
	assert.EqualValues(t, 4, obj.Size)

	rc, err := s.Get(ctx, obj.Key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))

	ct, ok := s.ContentType(obj.Key)
	require.True(t, ok)
	assert.Equal(t, "video/mp4", ct)

	list, err := s.List(ctx, "videos/u1/")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, obj.Key))
	_, err = s.Get(ctx, obj.Key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://x/a/b%20c.mp4", joinURL("https://x/", "/a/b c.mp4"))
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		conf   config.Config
		region string
		want   string
	}{
		{"explicit", config.Config{S3Bucket: "b", S3PublicBaseURL: "https://cdn.example.com/"}, "us-east-1", "https://cdn.example.com"},
		{"custom endpoint", config.Config{S3Bucket: "b", S3Endpoint: "http://minio:9000"}, "us-east-1", "http://minio:9000/b"},
		{"aws regional", config.Config{S3Bucket: "b"}, "ap-southeast-1", "https://b.s3.ap-southeast-1.amazonaws.com"},
		{"aws global", config.Config{S3Bucket: "b"}, "", "https://b.s3.amazonaws.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publicBaseURL(tt.conf, tt.region))
		})
	}
}
