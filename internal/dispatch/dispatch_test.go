package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/jangbersahaja/fishon-captain-sub003/pkg/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner   = "captain-9"
	videoID = "0f8fad5b-d9cb-469f-a165-70867728950e"
)

var limits = Limits{MaxClipSeconds: 30, TargetMaxDimension: 1280}

func queuedRecord(t *testing.T, store videos.Store) *videos.Record {
	t.Helper()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	key := videos.UploadKey(owner, "u-1", "clip.mp4")
	rec := &videos.Record{
		ID:           videoID,
		OwnerID:      owner,
		OriginalKey:  key,
		OriginalURL:  "https://cdn.example.com/" + key,
		TrimStartSec: 4,
		Status:       videos.StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

type stubBackend struct {
	name  string
	res   *videos.Result
	err   error
	calls atomic.Int32
	jobs  []normalize.Job
	mu    sync.Mutex
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Dispatch(ctx context.Context, job normalize.Job) (*videos.Result, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()
	return b.res, b.err
}

func TestDispatch_ClaimsAndBuildsJob(t *testing.T) {
	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	backend := &stubBackend{name: BackendBroker}

	rec, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
	require.NoError(t, err)
	assert.Equal(t, videos.StatusProcessing, rec.Status)
	assert.Equal(t, 1, rec.DispatchAttempts)
	assert.NotNil(t, rec.ProcessingStartedAt)

	require.Len(t, backend.jobs, 1)
	job := backend.jobs[0]
	assert.Equal(t, videoID, job.VideoID)
	assert.Equal(t, owner, job.OwnerID)
	assert.Equal(t, 4.0, job.StartSec)
	assert.Equal(t, 30.0, job.MaxDurationSec)
	assert.Equal(t, 1280, job.TargetMaxDimension)
}

func TestDispatch_OnlyQueuedRecordsAreClaimed(t *testing.T) {
	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	backend := &stubBackend{name: BackendBroker}
	d := New(store, backend, limits)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), videoID); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, videos.ErrConflict)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestDispatch_TransportErrorRequeues(t *testing.T) {
	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	backend := &stubBackend{name: BackendWorker, err: io.ErrUnexpectedEOF}

	rec, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NotNil(t, rec)
	assert.Equal(t, videos.StatusQueued, rec.Status)
	assert.Contains(t, rec.DispatchError, "unexpected EOF")
	assert.Empty(t, rec.ErrorMessage)
	assert.Nil(t, rec.ProcessingStartedAt)
}

func TestDispatch_UnusableInlineResultRequeues(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		res  videos.Result
		want error
	}{
		{"success without output", videos.Result{VideoID: videoID, Success: &yes}, videos.ErrIncompleteResult},
		{"no success flag", videos.Result{VideoID: videoID, ReadyURL: "https://cdn/k.mp4"}, videos.ErrAmbiguousResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := videos.NewMemoryStore()
			queuedRecord(t, store)
			res := tt.res

			rec, err := New(store, &stubBackend{name: BackendWorker, res: &res}, limits).Dispatch(context.Background(), videoID)
			require.ErrorIs(t, err, tt.want)
			require.NotNil(t, rec)
			assert.Equal(t, videos.StatusQueued, rec.Status)
			assert.NotEmpty(t, rec.DispatchError)
			assert.Nil(t, rec.ProcessingStartedAt)

			stored, err := store.Get(context.Background(), videoID)
			require.NoError(t, err)
			assert.Equal(t, videos.StatusQueued, stored.Status)
		})
	}
}

func TestDispatch_InlineResults(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := videos.NewMemoryStore()
		queuedRecord(t, store)
		res := videos.SuccessResult(videoID, "k/720p.mp4", "https://cdn/k/720p.mp4", "", "")
		rec, err := New(store, &stubBackend{name: BackendLocal, res: &res}, limits).Dispatch(context.Background(), videoID)
		require.NoError(t, err)
		assert.Equal(t, videos.StatusReady, rec.Status)
		assert.Equal(t, "https://cdn/k/720p.mp4", rec.ReadyURL)
	})

	t.Run("worker failure", func(t *testing.T) {
		store := videos.NewMemoryStore()
		queuedRecord(t, store)
		res := videos.FailureResult(videoID, "moov atom not found")
		rec, err := New(store, &stubBackend{name: BackendLocal, res: &res}, limits).Dispatch(context.Background(), videoID)
		require.NoError(t, err)
		assert.Equal(t, videos.StatusFailed, rec.Status)
		assert.Equal(t, "moov atom not found", rec.ErrorMessage)
	})
}

func workerServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/normalize", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var job normalize.Job
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		assert.Equal(t, videoID, job.VideoID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorkerBackend(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantStatus  videos.Status
		wantErr     bool
		wantMessage string
	}{
		{"success", 200, `{"success":true,"readyUrl":"https://cdn/v/720p.mp4","readyKey":"v/720p.mp4"}`, videos.StatusReady, false, ""},
		{"ok flag", 200, `{"ok":true,"readyUrl":"https://cdn/v/720p.mp4"}`, videos.StatusReady, false, ""},
		{"reported failure", 200, `{"success":false,"error":"decoder exploded"}`, videos.StatusFailed, false, "decoder exploded"},
		{"server error", 502, `bad gateway`, videos.StatusQueued, true, ""},
		{"ambiguous", 200, `{"readyUrl":"https://cdn/v/720p.mp4"}`, videos.StatusQueued, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := workerServer(t, tt.status, tt.body)
			store := videos.NewMemoryStore()
			queuedRecord(t, store)

			backend := NewWorkerBackend(srv.URL+"/", 5*time.Second, nil)
			defer backend.Close()
			_, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			rec, err := store.Get(context.Background(), videoID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantMessage, rec.ErrorMessage)
			if tt.wantStatus == videos.StatusQueued {
				assert.NotEmpty(t, rec.DispatchError)
			}
		})
	}
}

func TestWorkerBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	backend := NewWorkerBackend(url, time.Second, nil)
	defer backend.Close()

	_, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
	require.Error(t, err)
	rec, _ := store.Get(context.Background(), videoID)
	assert.Equal(t, videos.StatusQueued, rec.Status)
	assert.Contains(t, rec.DispatchError, "post to worker")
}

func TestWorkerBackend_SignsRequests(t *testing.T) {
	var (
		sig  string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(signature.Header)
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"readyUrl":"https://cdn/v/720p.mp4"}`)
	}))
	defer srv.Close()

	store := videos.NewMemoryStore()
	queuedRecord(t, store)

	backend := NewWorkerBackend(srv.URL, time.Second, signature.NewSigner("shared"))
	defer backend.Close()
	_, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
	require.NoError(t, err)

	require.NotEmpty(t, sig)
	assert.NoError(t, signature.NewVerifier("shared", "").Verify(sig, srv.URL+"/normalize", body))
}

func TestHTTPPublisher(t *testing.T) {
	var (
		gotURI  string
		gotAuth string
		gotCB   string
		gotJob  normalize.Job
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		gotAuth = r.Header.Get("Authorization")
		gotCB = r.Header.Get("Upstash-Callback")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotJob))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"messageId":"msg_1"}`)
	}))
	defer srv.Close()

	store := videos.NewMemoryStore()
	queuedRecord(t, store)

	pub := NewHTTPPublisher(srv.URL, "broker-token", time.Second)
	backend := NewBrokerBackend(pub, "https://worker.example.com/normalize", "https://app.example.com/api/videos/callback")
	d := New(store, backend, limits)
	defer d.Close()

	rec, err := d.Dispatch(context.Background(), videoID)
	require.NoError(t, err)
	assert.Equal(t, videos.StatusProcessing, rec.Status, "broker leaves the record processing until callback")

	assert.Equal(t, "/v2/publish/https://worker.example.com/normalize", gotURI)
	assert.Equal(t, "Bearer broker-token", gotAuth)
	assert.Equal(t, "https://app.example.com/api/videos/callback", gotCB)
	assert.Equal(t, videoID, gotJob.VideoID)
}

func TestHTTPPublisher_RejectedRequeues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	backend := NewBrokerBackend(NewHTTPPublisher(srv.URL, "t", time.Second), "https://w/normalize", "https://a/cb")

	_, err := New(store, backend, limits).Dispatch(context.Background(), videoID)
	require.Error(t, err)
	rec, _ := store.Get(context.Background(), videoID)
	assert.Equal(t, videos.StatusQueued, rec.Status)
	assert.Contains(t, rec.DispatchError, "429")
}

func TestRedispatchQueued(t *testing.T) {
	store := videos.NewMemoryStore()
	queuedRecord(t, store)
	res := videos.SuccessResult(videoID, "k", "https://cdn/k", "", "")
	d := New(store, &stubBackend{name: BackendLocal, res: &res}, limits)

	n, err := d.RedispatchQueued(context.Background(), time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Zero(t, n, "record is newer than the cutoff")

	n, err = d.RedispatchQueued(context.Background(), time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, _ := store.Get(context.Background(), videoID)
	assert.Equal(t, videos.StatusReady, rec.Status)
}

type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, job normalize.Job) videos.Result {
	return videos.FailureResult(job.VideoID, "not implemented")
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		conf config.Config
		want string
	}{
		{"nothing configured", config.Config{}, BackendLocal},
		{"worker only", config.Config{WorkerURL: "https://worker.example.com"}, BackendWorker},
		{"http broker", config.Config{WorkerURL: "https://worker.example.com", BrokerURL: "https://qstash.example.com", BrokerToken: "t"}, BackendBroker},
		{"broker cannot reach loopback worker", config.Config{WorkerURL: "http://127.0.0.1:8090", BrokerURL: "https://qstash.example.com", BrokerToken: "t"}, BackendWorker},
		{"broker without worker", config.Config{BrokerURL: "https://qstash.example.com", BrokerToken: "t"}, BackendLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Select(&tt.conf, nopRunner{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
		})
	}

	_, err := Select(&config.Config{}, nil)
	assert.Error(t, err, "no backend at all")
}

func TestIsLoopback(t *testing.T) {
	for url, want := range map[string]bool{
		"http://localhost:8090":      true,
		"http://worker.localhost":    true,
		"http://127.0.0.1:8090":      true,
		"http://[::1]:8090":          true,
		"http://0.0.0.0:8090":        true,
		"https://worker.example.com": false,
		"http://10.0.0.5:8090":       false,
		"::not a url::":              false,
	} {
		assert.Equal(t, want, isLoopback(url), url)
	}
}

// Round trip: a 45 s 1080p original with a pending seek is queued by ingress
// and normalized by the local backend into a ready 720p rendition.
type fakeTranscoder struct{}

func (fakeTranscoder) Transcode(ctx context.Context, in, out string, o ffmpeg.NormalizeOptions) (normalize.Media, error) {
	w, h := ffmpeg.FitDimensions(1920, 1080, o.MaxDimension)
	return normalize.Media{DurationSec: o.MaxDuration.Seconds(), Width: w, Height: h}, os.WriteFile(out, []byte("mp4"), 0o644)
}

func (fakeTranscoder) Thumbnail(ctx context.Context, in, out string) error {
	return os.WriteFile(out, []byte("jpg"), 0o644)
}

func TestRoundTrip_LocalBackend(t *testing.T) {
	store := videos.NewMemoryStore()
	objects := objectstore.NewMemoryStore("https://cdn.example.com")

	key := videos.UploadKey(owner, "u-9", "long.mov")
	_, err := objects.Put(context.Background(), key, strings.NewReader("1080p-original"), objectstore.PutOptions{})
	require.NoError(t, err)

	worker := normalize.NewWorker(objects, fakeTranscoder{}, fakeTranscoder{})
	worker.WorkDir = t.TempDir()
	defer worker.Close()

	d := New(store, NewLocalBackend(worker), limits)
	svc := ingress.NewService(store, objects, d, ingress.Policy{
		MaxClipSeconds:     limits.MaxClipSeconds,
		TargetMaxDimension: limits.TargetMaxDimension,
		WorkerConfigured:   false,
	}, nil)

	end := 38.0
	dur := 45.0
	w, h := 1920, 1080
	rec, err := svc.Create(context.Background(), owner, ingress.CreateRequest{
		OriginalKey: key,
		OriginalURL: objects.URL(key),
		Trim: videos.Trim{
			StartSec:            8,
			EndSec:              &end,
			Width:               &w,
			Height:              &h,
			OriginalDurationSec: &dur,
			DidFallback:         true,
			FallbackReason:      "trim failed",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, videos.StatusQueued, rec.Status)

	d.Wait()

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, videos.StatusReady, got.Status)
	assert.Equal(t, objects.URL(videos.ReadyKey(owner, rec.ID)), got.ReadyURL)
	assert.Equal(t, objects.URL(videos.ThumbnailKey(owner, rec.ID)), got.ThumbnailURL)
	assert.Equal(t, 1, got.DispatchAttempts)
	assert.Empty(t, got.ErrorMessage)
}
