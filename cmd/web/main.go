package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/internal/web"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/application"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/callback"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/db"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/dispatch"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/reaper"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logCloser := application.InitLogger(*conf, "web")
	defer logCloser.Close()

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	store := db.NewVideoStore(dbc)

	objects, err := objectstore.Open(ctx, *conf)
	if err != nil {
		slog.Error("failed to open object store", "error", err)
		os.Exit(1)
	}

	// The in-process runner only serves when no worker or broker is set.
	runner := normalize.NewWorker(objects, normalize.FFmpeg{}, normalize.FFmpeg{})
	runner.WorkDir = conf.WorkDir
	defer runner.Close()

	backend, err := dispatch.Select(conf, runner)
	if err != nil {
		slog.Error("failed to select dispatch backend", "error", err)
		os.Exit(1)
	}
	dispatcher := dispatch.New(store, backend, dispatch.Limits{
		MaxClipSeconds:     float64(conf.MaxClipSeconds),
		TargetMaxDimension: conf.TargetMaxDimension,
	})
	defer dispatcher.Close()

	svc := ingress.NewService(store, objects, dispatcher, ingress.Policy{
		MaxClipSeconds:     float64(conf.MaxClipSeconds),
		TargetMaxDimension: conf.TargetMaxDimension,
		WorkerConfigured:   backend.Name() != dispatch.BackendLocal,
	}, ingress.FFprobe)

	verifier := signature.NewVerifier(conf.CallbackSigningKey, conf.CallbackNextSigningKey)
	receiver := callback.NewReceiver(store, verifier, callback.Mode(conf.CallbackVerifyMode))

	sweeper := reaper.New(store, dispatcher, conf.ProcessingTimeout, conf.RedispatchAfter)
	if err := sweeper.Start(ctx); err != nil {
		slog.Error("failed to start reaper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	tokens := auth.NewTokens(conf.AuthTokenSecret)
	if tokens == nil {
		slog.Warn("AUTH_TOKEN_SECRET not set, bearer tokens are disabled")
	}

	e, err := web.NewWebserver(web.Deps{
		Store:        store,
		Objects:      objects,
		Ingress:      svc,
		Dispatcher:   dispatcher,
		Receiver:     receiver,
		Sessions:     auth.NewSessionManager(conf.SessionSecret),
		Tokens:       tokens,
		CallbackURL:  conf.CallbackURL(),
		ServeObjects: !conf.ObjectStoreConfigured(),
		Ping:         pool.Ping,
	})
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr, "backend", backend.Name())
	if err := e.Start(addr); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
