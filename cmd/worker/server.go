package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/dispatch"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxJobBody = 64 << 10

var errBusy = errors.New("worker is at capacity")

// jobServer accepts normalization jobs over HTTP, from the dispatcher or an
// HTTP broker, and answers with the result.
type jobServer struct {
	runner   dispatch.Runner
	verifier *signature.Verifier
	mode     config.VerifyMode
	// endpoint is the public job URL signatures are issued for. Empty skips
	// the subject check.
	endpoint string
	slots    chan struct{}
}

func newJobServer(runner dispatch.Runner, verifier *signature.Verifier, mode config.VerifyMode, endpoint string, concurrency int) *jobServer {
	return &jobServer{
		runner:   runner,
		verifier: verifier,
		mode:     mode,
		endpoint: endpoint,
		slots:    make(chan struct{}, max(concurrency, 1)),
	}
}

func (s *jobServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.POST("/normalize", s.handleNormalize)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func (s *jobServer) handleNormalize(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxJobBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}

	if err := s.verify(c.Request().Header.Get(signature.Header), body); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "signature rejected"})
	}

	var job normalize.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job JSON"})
	}

	ctx := c.Request().Context()
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": errBusy.Error()})
	}

	res := s.runner.Run(ctx, job)
	return c.JSON(http.StatusOK, res)
}

func (s *jobServer) verify(token string, body []byte) error {
	if !s.verifier.Configured() {
		if s.mode == config.VerifyStrict {
			slog.Error("strict job verification without signing keys, rejecting")
			return signature.ErrNotConfigured
		}
		return nil
	}
	err := s.verifier.Verify(token, s.endpoint, body)
	if err == nil {
		return nil
	}
	if s.mode == config.VerifyStrict {
		slog.Warn("job signature rejected", "error", err)
		return err
	}
	slog.Warn("job signature did not verify, accepting in soft mode", "error", err)
	return nil
}
