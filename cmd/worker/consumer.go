package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/callback"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/dispatch"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"resty.dev/v3"
)

// resultPoster delivers results of broker jobs to the callback receiver.
type resultPoster struct {
	client *resty.Client
	signer *signature.Signer
}

func newResultPoster(timeout time.Duration, signer *signature.Signer) *resultPoster {
	client := resty.New().SetTimeout(timeout)
	return &resultPoster{client: client, signer: signer}
}

func (p *resultPoster) Close() error {
	return p.client.Close()
}

func (p *resultPoster) Post(ctx context.Context, url, messageID string, res videos.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if messageID != "" {
		req.SetHeader(callback.HeaderMessageID, messageID)
	}
	if p.signer != nil {
		sig, err := p.signer.Sign(url, body)
		if err != nil {
			return fmt.Errorf("sign result: %w", err)
		}
		req.SetHeader(signature.Header, sig)
	}

	resp, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("callback responded %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// jobHandler runs one consumed job and reports its result. A job that
// cannot be decoded is reported as failed when its id is known and dropped
// otherwise.
func jobHandler(runner dispatch.Runner, poster *resultPoster, fallbackCallbackURL string) func(context.Context, dispatch.Delivery) error {
	return func(ctx context.Context, d dispatch.Delivery) error {
		url := d.CallbackURL
		if url == "" {
			url = fallbackCallbackURL
		}
		if url == "" {
			slog.Error("job has no callback url, dropping", "message_id", d.MessageID)
			return nil
		}

		var job normalize.Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			slog.Error("undecodable job, dropping", "message_id", d.MessageID, "error", err)
			return nil
		}

		logger := slog.With("video_id", job.VideoID, "message_id", d.MessageID)
		logger.Info("job received")
		res := runner.Run(ctx, job)
		if res.VideoID == "" {
			res.VideoID = job.VideoID
		}

		if err := poster.Post(ctx, url, d.MessageID, res); err != nil {
			logger.Warn("failed to deliver result", "error", err)
			return err
		}
		logger.Info("result delivered", "callback_url", url)
		return nil
	}
}
