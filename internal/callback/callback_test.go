package callback

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner   = "captain-3"
	videoID = "9b2c1f4e-3a5d-4c6b-8e7f-0a1b2c3d4e5f"
)

var readyURL = "https://cdn.example.com/" + videos.ReadyKey(owner, videoID)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func newStore(t *testing.T, status videos.Status) *videos.MemoryStore {
	t.Helper()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := &videos.Record{
		ID:          videoID,
		OwnerID:     owner,
		OriginalKey: videos.UploadKey(owner, "u", "a.mp4"),
		OriginalURL: "https://cdn.example.com/orig.mp4",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == videos.StatusReady {
		rec.ReadyURL = readyURL
		rec.ReadyKey = videos.ReadyKey(owner, videoID)
	}
	if status == videos.StatusFailed {
		rec.ErrorMessage = "earlier failure"
	}
	store := videos.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), rec))
	return store
}

func TestDecode(t *testing.T) {
	direct := `{"videoId":"` + videoID + `","success":true,"readyUrl":"` + readyURL + `"}`

	tests := []struct {
		name    string
		body    string
		shape   string
		id      string
		success bool
		errMsg  string
	}{
		{"direct", direct, "direct", videoID, true, ""},
		{"direct ok flag", `{"videoId":"x","ok":false,"error":"boom"}`, "direct", "x", false, "boom"},
		{"broker envelope", `{"status":200,"body":"` + b64(direct) + `","sourceMessageId":"m1"}`, "broker", videoID, true, ""},
		{"broker envelope id from source", `{"status":200,"body":"` + b64(`{"success":true,"readyUrl":"https://x/y.mp4"}`) + `","sourceBody":"` + b64(`{"videoId":"from-source"}`) + `"}`, "broker", "from-source", true, ""},
		{"broker failure callback", `{"status":500,"body":"` + b64("ffmpeg crashed") + `","sourceBody":"` + b64(`{"videoId":"v-9"}`) + `"}`, "broker", "v-9", false, "worker responded 500: ffmpeg crashed"},
		{"wrapped response", `{"response":` + direct + `}`, "wrapped", videoID, true, ""},
		{"wrapped data string", `{"data":"{\"videoId\":\"s\",\"success\":false,\"error\":\"bad\"}"}`, "wrapped", "s", false, "bad"},
		{"wrapped broker envelope", `{"data":{"status":200,"body":"` + b64(direct) + `"}}`, "wrapped", videoID, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, shape, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.shape, shape)
			assert.Equal(t, tt.id, res.VideoID)
			ok, known := res.Succeeded()
			require.True(t, known)
			assert.Equal(t, tt.success, ok)
			assert.Equal(t, tt.errMsg, res.Error)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"empty":        "",
		"not json":     "hello",
		"unrelated":    `{"foo":"bar"}`,
		"bad base64":   `{"status":200,"body":"%%%"}`,
		"empty data":   `{"data":null}`,
		"too deep":     `{"data":{"data":{"data":{"data":{"data":{"success":true}}}}}}`,
		"json array":   `[1,2,3]`,
		"only headers": `{"header":{"X":["y"]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrUndecodable)
		})
	}
}

func TestHandle_IdempotentOnReady(t *testing.T) {
	store := newStore(t, videos.StatusReady)
	r := NewReceiver(store, nil, ModeSoft)

	body := `{"videoId":"` + videoID + `","success":true,"readyUrl":"https://other/720p.mp4","thumbnailUrl":"https://cdn/thumb.jpg"}`
	for i := 0; i < 3; i++ {
		resp, err := r.Handle(context.Background(), Request{Body: []byte(body)})
		require.NoError(t, err)
		assert.True(t, resp.Idempotent)
		assert.Equal(t, videos.StatusReady, resp.Status)
	}

	rec, err := store.Get(context.Background(), videoID)
	require.NoError(t, err)
	assert.Equal(t, readyURL, rec.ReadyURL, "ready url never overwritten")
	assert.Equal(t, "https://cdn/thumb.jpg", rec.ThumbnailURL, "missing thumbnail filled in")

	t.Run("late failure does not regress", func(t *testing.T) {
		resp, err := r.Handle(context.Background(), Request{Body: []byte(`{"videoId":"` + videoID + `","success":false,"error":"late"}`)})
		require.NoError(t, err)
		assert.True(t, resp.Idempotent)
		rec, _ := store.Get(context.Background(), videoID)
		assert.Equal(t, videos.StatusReady, rec.Status)
		assert.Empty(t, rec.ErrorMessage)
	})
}

func TestHandle_AppliesToProcessing(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := newStore(t, videos.StatusProcessing)
		resp, err := NewReceiver(store, nil, ModeSoft).Handle(context.Background(), Request{
			Body: []byte(`{"videoId":"` + videoID + `","success":true,"readyUrl":"` + readyURL + `"}`),
		})
		require.NoError(t, err)
		assert.False(t, resp.Idempotent)
		assert.Equal(t, videos.StatusReady, resp.Status)
	})

	t.Run("failure", func(t *testing.T) {
		store := newStore(t, videos.StatusProcessing)
		resp, err := NewReceiver(store, nil, ModeSoft).Handle(context.Background(), Request{
			Body: []byte(`{"videoId":"` + videoID + `","ok":false,"error":"corrupt input"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, videos.StatusFailed, resp.Status)
		rec, _ := store.Get(context.Background(), videoID)
		assert.Equal(t, "corrupt input", rec.ErrorMessage)
	})

	t.Run("ambiguous", func(t *testing.T) {
		store := newStore(t, videos.StatusProcessing)
		_, err := NewReceiver(store, nil, ModeSoft).Handle(context.Background(), Request{
			Body: []byte(`{"videoId":"` + videoID + `","readyUrl":"` + readyURL + `"}`),
		})
		require.ErrorIs(t, err, videos.ErrAmbiguousResult)
		rec, _ := store.Get(context.Background(), videoID)
		assert.Equal(t, videos.StatusProcessing, rec.Status)
	})

	t.Run("success without output", func(t *testing.T) {
		store := newStore(t, videos.StatusProcessing)
		_, err := NewReceiver(store, nil, ModeSoft).Handle(context.Background(), Request{
			Body: []byte(`{"videoId":"` + videoID + `","success":true}`),
		})
		require.ErrorIs(t, err, videos.ErrIncompleteResult)
		rec, _ := store.Get(context.Background(), videoID)
		assert.Equal(t, videos.StatusProcessing, rec.Status)
	})
}

func TestHandle_RecoversIDFromURL(t *testing.T) {
	store := newStore(t, videos.StatusProcessing)
	r := NewReceiver(store, nil, ModeSoft)

	resp, err := r.Handle(context.Background(), Request{Body: []byte(`{"success":true,"readyUrl":"` + readyURL + `"}`)})
	require.NoError(t, err)
	assert.Equal(t, videoID, resp.VideoID)
	assert.Equal(t, videos.StatusReady, resp.Status)

	_, err = r.Handle(context.Background(), Request{Body: []byte(`{"success":true,"readyUrl":"https://cdn.example.com/elsewhere/file.mp4"}`)})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestHandle_UnknownRecord(t *testing.T) {
	store := newStore(t, videos.StatusProcessing)
	_, err := NewReceiver(store, nil, ModeSoft).Handle(context.Background(), Request{
		Body: []byte(`{"videoId":"00000000-0000-4000-8000-000000000000","success":true,"readyUrl":"x"}`),
	})
	assert.ErrorIs(t, err, videos.ErrNotFound)
}

func TestHandle_SignatureModes(t *testing.T) {
	body := []byte(`{"videoId":"` + videoID + `","success":true,"readyUrl":"` + readyURL + `"}`)
	const url = "https://app.example.com/api/videos/callback"
	good, err := signature.NewSigner("k1").Sign(url, body)
	require.NoError(t, err)
	forged, err := signature.NewSigner("attacker").Sign(url, body)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mode    Mode
		keys    [2]string
		sig     string
		wantErr bool
	}{
		{"strict valid", ModeStrict, [2]string{"k1", ""}, good, false},
		{"strict valid with next key", ModeStrict, [2]string{"k0", "k1"}, good, false},
		{"strict forged", ModeStrict, [2]string{"k1", ""}, forged, true},
		{"strict missing", ModeStrict, [2]string{"k1", ""}, "", true},
		{"strict without keys", ModeStrict, [2]string{"", ""}, good, true},
		{"soft forged", ModeSoft, [2]string{"k1", ""}, forged, false},
		{"soft missing", ModeSoft, [2]string{"k1", ""}, "", false},
		{"soft without keys", ModeSoft, [2]string{"", ""}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, videos.StatusProcessing)
			r := NewReceiver(store, signature.NewVerifier(tt.keys[0], tt.keys[1]), tt.mode)
			_, err := r.Handle(context.Background(), Request{Body: body, Signature: tt.sig, URL: url})

			rec, _ := store.Get(context.Background(), videoID)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnauthorized)
				assert.Equal(t, videos.StatusProcessing, rec.Status, "rejected callback must not change the record")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, videos.StatusReady, rec.Status)
		})
	}
}

func TestHandle_DuplicateMessageID(t *testing.T) {
	store := newStore(t, videos.StatusProcessing)
	r := NewReceiver(store, nil, ModeSoft)
	body := []byte(`{"videoId":"` + videoID + `","success":true,"readyUrl":"` + readyURL + `"}`)

	first, err := r.Handle(context.Background(), Request{Body: body, MessageID: "msg-1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := r.Handle(context.Background(), Request{Body: body, MessageID: "msg-1"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Idempotent)
}

func TestNewReceiver_DefaultsToSoft(t *testing.T) {
	assert.Equal(t, ModeSoft, NewReceiver(videos.NewMemoryStore(), nil, "").Mode())
	assert.Equal(t, ModeStrict, NewReceiver(videos.NewMemoryStore(), nil, ModeStrict).Mode())
}
