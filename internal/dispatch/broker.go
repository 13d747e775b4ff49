package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"resty.dev/v3"
)

// Message is one broker publication: deliver Body to TargetURL, then send
// the target's response to CallbackURL.
type Message struct {
	VideoID     string
	TargetURL   string
	CallbackURL string
	Body        []byte
}

// Publisher enqueues a message with a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// BrokerBackend publishes the job and returns without a result; the record
// stays processing until the callback arrives.
type BrokerBackend struct {
	publisher   Publisher
	targetURL   string
	callbackURL string
}

func NewBrokerBackend(publisher Publisher, targetURL, callbackURL string) *BrokerBackend {
	return &BrokerBackend{publisher: publisher, targetURL: targetURL, callbackURL: callbackURL}
}

func (b *BrokerBackend) Name() string { return BackendBroker }

func (b *BrokerBackend) Dispatch(ctx context.Context, job normalize.Job) (*videos.Result, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	msg := Message{
		VideoID:     job.VideoID,
		TargetURL:   b.targetURL,
		CallbackURL: b.callbackURL,
		Body:        body,
	}
	if err := b.publisher.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish job: %w", err)
	}
	return nil, nil
}

func (b *BrokerBackend) Close() error {
	return b.publisher.Close()
}

// HTTPPublisher publishes through an HTTP message broker with the
// /v2/publish/<destination> API.
type HTTPPublisher struct {
	client  *resty.Client
	Retries int
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

func NewHTTPPublisher(brokerURL, token string, timeout time.Duration) *HTTPPublisher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(brokerURL, "/")).
		SetAuthToken(token)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPPublisher{client: client, Retries: 3}
}

func (p *HTTPPublisher) Publish(ctx context.Context, msg Message) error {
	var out publishResponse
	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Upstash-Method", "POST").
		SetHeader("Upstash-Retries", fmt.Sprint(p.Retries)).
		SetBody(msg.Body).
		SetResult(&out)
	if msg.CallbackURL != "" {
		req.SetHeader("Upstash-Callback", msg.CallbackURL)
		req.SetHeader("Upstash-Failure-Callback", msg.CallbackURL)
	}

	resp, err := req.Post("/v2/publish/" + msg.TargetURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("broker responded %d: %s", resp.StatusCode(), snippet(resp.String()))
	}
	slog.Debug("published job to broker", "video_id", msg.VideoID, "message_id", out.MessageID)
	return nil
}

func (p *HTTPPublisher) Close() error {
	return p.client.Close()
}
