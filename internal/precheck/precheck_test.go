package precheck

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"unicode/utf8"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trimCall struct {
	start, length time.Duration
}

func newTestPrechecker(t *testing.T, probe Probe, inspectErr, trimErr error) (*Prechecker, *[]trimCall) {
	t.Helper()
	var calls []trimCall
	p := New(30 * time.Second)
	p.TempDir = t.TempDir()
	p.Inspect = func(ctx context.Context, path string) (Probe, error) {
		return probe, inspectErr
	}
	p.Trim = func(ctx context.Context, in, out string, start, length time.Duration) error {
		calls = append(calls, trimCall{start, length})
		if trimErr != nil {
			return trimErr
		}
		return os.WriteFile(out, []byte("clip"), 0o644)
	}
	return p, &calls
}

func TestPrepare_ShortClipUploadsOriginal(t *testing.T) {
	p, calls := newTestPrechecker(t, Probe{DurationSec: 12, Width: 1280, Height: 720}, nil, nil)

	res := p.Prepare(context.Background(), "/videos/a.mp4", Window{})
	assert.Equal(t, "/videos/a.mp4", res.Path)
	assert.False(t, res.Trimmed)
	assert.False(t, res.Trim.DidFallback)
	require.NotNil(t, res.Trim.EndSec)
	assert.Equal(t, 12.0, *res.Trim.EndSec)
	assert.Equal(t, 1280, *res.Trim.Width)
	assert.Empty(t, *calls)
}

func TestPrepare_LongClipIsCappedAndTrimmed(t *testing.T) {
	p, calls := newTestPrechecker(t, Probe{DurationSec: 45, Width: 1920, Height: 1080}, nil, nil)

	res := p.Prepare(context.Background(), "/videos/long.mov", Window{Start: 5 * time.Second})
	defer res.Cleanup()

	assert.True(t, res.Trimmed)
	assert.NotEqual(t, "/videos/long.mov", res.Path)
	assert.Equal(t, 5.0, res.Trim.StartSec)
	assert.Equal(t, 35.0, *res.Trim.EndSec)
	assert.Equal(t, 45.0, *res.Trim.OriginalDurationSec)
	w, ok := res.Trim.WindowSec()
	require.True(t, ok)
	assert.Equal(t, 30.0, w)
	assert.Zero(t, res.Trim.PendingSeekSec())

	require.Len(t, *calls, 1)
	assert.Equal(t, 5*time.Second, (*calls)[0].start)
	assert.Equal(t, 30*time.Second, (*calls)[0].length)

	res.Cleanup()
	_, err := os.Stat(res.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepare_TrimFailureFallsBack(t *testing.T) {
	p, _ := newTestPrechecker(t, Probe{DurationSec: 45, Width: 1920, Height: 1080}, nil, errors.New("moov atom not found"))

	res := p.Prepare(context.Background(), "/videos/long.mov", Window{Start: 10 * time.Second, End: 20 * time.Second})
	assert.Equal(t, "/videos/long.mov", res.Path)
	assert.False(t, res.Trimmed)
	assert.True(t, res.Trim.DidFallback)
	assert.Contains(t, res.Trim.FallbackReason, "moov atom")
	assert.Equal(t, 10.0, res.Trim.PendingSeekSec(), "server must still seek into the original")
	assert.Equal(t, 45.0, *res.Trim.OriginalDurationSec)
}

func TestPrepare_LongFallbackReasonStaysValidUTF8(t *testing.T) {
	p, _ := newTestPrechecker(t, Probe{DurationSec: 45}, nil, errors.New(strings.Repeat("é", 300)))

	res := p.Prepare(context.Background(), "/videos/long.mov", Window{})
	require.True(t, res.Trim.DidFallback)
	assert.True(t, utf8.ValidString(res.Trim.FallbackReason))
	assert.True(t, strings.HasPrefix(res.Trim.FallbackReason, "trim failed: "))
	assert.LessOrEqual(t, len(res.Trim.FallbackReason), 200+len("…"))
}

func TestPrepare_InspectFailureHasNoMetadata(t *testing.T) {
	p, calls := newTestPrechecker(t, Probe{}, errors.New("invalid data"), nil)

	res := p.Prepare(context.Background(), "/videos/broken.mp4", Window{Start: time.Second})
	assert.Equal(t, "/videos/broken.mp4", res.Path)
	assert.True(t, res.Trim.DidFallback)
	assert.Nil(t, res.Trim.EndSec)
	assert.Nil(t, res.Trim.OriginalDurationSec)
	assert.Nil(t, res.Trim.Width)
	assert.Empty(t, *calls)
}

func TestClamp(t *testing.T) {
	p := New(30 * time.Second)
	tests := []struct {
		name           string
		w              Window
		duration       float64
		wantStart, end float64
	}{
		{"whole short clip", Window{}, 10, 0, 10},
		{"cap from zero", Window{}, 90, 0, 30},
		{"explicit window", Window{Start: 2 * time.Second, End: 12 * time.Second}, 90, 2, 12},
		{"window over cap", Window{Start: 2 * time.Second, End: 80 * time.Second}, 90, 2, 32},
		{"end past duration", Window{Start: 5 * time.Second, End: 80 * time.Second}, 20, 5, 20},
		{"start past duration resets", Window{Start: 100 * time.Second}, 20, 0, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := p.clamp(tt.w, tt.duration)
			assert.Equal(t, tt.wantStart, s)
			assert.Equal(t, tt.end, e)
		})
	}
}
