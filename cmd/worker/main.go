package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/application"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/dispatch"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting normalization worker")

	conf, err := config.LoadWorkerConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logCloser := application.InitLogger(*conf, "worker")
	defer logCloser.Close()

	objects, err := objectstore.Open(ctx, *conf)
	if err != nil {
		slog.Error("failed to open object store", "error", err)
		os.Exit(1)
	}

	runner := normalize.NewWorker(objects, normalize.FFmpeg{}, normalize.FFmpeg{})
	runner.WorkDir = conf.WorkDir
	defer runner.Close()

	concurrency := envInt("WORKER_CONCURRENCY", 2)
	verifier := signature.NewVerifier(conf.CallbackSigningKey, conf.CallbackNextSigningKey)

	endpoint := ""
	if conf.WorkerConfigured() {
		endpoint = dispatch.WorkerEndpoint(conf.WorkerURL)
	}
	e := newJobServer(runner, verifier, conf.CallbackVerifyMode, endpoint, concurrency).routes()

	if conf.BrokerIsAMQP() {
		poster := newResultPoster(30*time.Second, signature.NewSigner(conf.CallbackSigningKey))
		defer poster.Close()
		go func() {
			handle := jobHandler(runner, poster, conf.CallbackURL())
			for ctx.Err() == nil {
				if err := dispatch.Consume(ctx, conf.BrokerURL, conf.BrokerQueue, concurrency, handle); err != nil {
					slog.Error("consumer stopped, reconnecting", "error", err)
					select {
					case <-ctx.Done():
					case <-time.After(5 * time.Second):
					}
				}
			}
		}()
	}

	addr := ":" + strconv.Itoa(conf.WorkerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr, "concurrency", concurrency, "amqp", conf.BrokerIsAMQP())
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer env, using default", "name", name, "value", raw, "default", def)
		return def
	}
	return n
}
