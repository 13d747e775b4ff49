// Package dispatch hands queued video records to a normalization backend.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"resty.dev/v3"
)

// Backend strategy names.
const (
	BackendBroker = "broker"
	BackendWorker = "worker"
	BackendLocal  = "local"
)

// Backend performs one handoff. A non-nil error means the handoff itself
// failed and the record goes back to the queue. A nil result means the
// outcome arrives later through the callback receiver.
type Backend interface {
	Name() string
	Dispatch(ctx context.Context, job normalize.Job) (*videos.Result, error)
}

// Runner runs a job in process.
type Runner interface {
	Run(ctx context.Context, job normalize.Job) videos.Result
}

// LocalBackend runs the worker inside the dispatching process.
type LocalBackend struct {
	runner Runner
}

func NewLocalBackend(runner Runner) *LocalBackend {
	return &LocalBackend{runner: runner}
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) Dispatch(ctx context.Context, job normalize.Job) (*videos.Result, error) {
	res := b.runner.Run(ctx, job)
	return &res, nil
}

// WorkerBackend posts the job to an external worker and waits for its
// result.
type WorkerBackend struct {
	client   *resty.Client
	endpoint string
	signer   *signature.Signer
}

// NewWorkerBackend targets <workerURL>/normalize. signer may be nil.
func NewWorkerBackend(workerURL string, timeout time.Duration, signer *signature.Signer) *WorkerBackend {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &WorkerBackend{
		client:   client,
		endpoint: WorkerEndpoint(workerURL),
		signer:   signer,
	}
}

// WorkerEndpoint is the job endpoint of a worker base URL.
func WorkerEndpoint(workerURL string) string {
	return strings.TrimRight(workerURL, "/") + "/normalize"
}

func (b *WorkerBackend) Name() string { return BackendWorker }

func (b *WorkerBackend) Dispatch(ctx context.Context, job normalize.Job) (*videos.Result, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	req := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if b.signer != nil {
		sig, err := b.signer.Sign(b.endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("sign job: %w", err)
		}
		req.SetHeader(signature.Header, sig)
	}

	var res videos.Result
	resp, err := req.SetResult(&res).Post(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("post to worker: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("worker responded %d: %s", resp.StatusCode(), snippet(resp.String()))
	}
	if _, known := res.Succeeded(); !known {
		return nil, fmt.Errorf("worker response: %w", videos.ErrAmbiguousResult)
	}
	if res.VideoID == "" {
		res.VideoID = job.VideoID
	}
	return &res, nil
}

func (b *WorkerBackend) Close() error {
	return b.client.Close()
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
