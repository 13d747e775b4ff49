package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/application"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(startupCtx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logCloser := application.InitLogger(*conf, "pg-migrator")
	defer logCloser.Close()

	slog.Info("Starting video schema migrations")

	dbc, closeDB, err := openConnection(startupCtx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := dbc.Migrate(startupCtx); err != nil {
		slog.Error("failed to run PostgreSQL migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("Video schema is up to date")
}

func openConnection(ctx context.Context, conf config.Config) (*db.DatabaseConnection, func(), error) {
	pool, err := application.OpenDBPoolWithRetry(ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return dbc, dbc.Close, nil
}
