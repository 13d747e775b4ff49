package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/application"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/db"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/dispatch"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/normalize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "videoctl",
	Short:        "Operate the captain video pipeline",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what the database-backed commands share.
type env struct {
	conf  *config.Config
	store *db.VideoStore
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCloser := application.InitLogger(*conf, "videoctl")

	store, closeDB, err := application.OpenVideoStore(ctx, *conf)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	return &env{conf: conf, store: store, close: func() {
		closeDB()
		logCloser.Close()
	}}, nil
}

// dispatcher builds the same dispatcher the web service runs.
func (e *env) dispatcher(ctx context.Context) (*dispatch.Dispatcher, io.Closer, error) {
	objects, err := objectstore.Open(ctx, *e.conf)
	if err != nil {
		return nil, nil, err
	}
	runner := normalize.NewWorker(objects, normalize.FFmpeg{}, normalize.FFmpeg{})
	runner.WorkDir = e.conf.WorkDir

	backend, err := dispatch.Select(e.conf, runner)
	if err != nil {
		runner.Close()
		return nil, nil, err
	}
	d := dispatch.New(e.store, backend, dispatch.Limits{
		MaxClipSeconds:     float64(e.conf.MaxClipSeconds),
		TargetMaxDimension: e.conf.TargetMaxDimension,
	})
	return d, runner, nil
}
