package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/application"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/metrics"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/objectstore"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/precheck"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/uploadclient"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/uploadqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type uploadFlags struct {
	priority     string
	start        float64
	end          float64
	charterID    string
	concurrency  int
	wait         bool
	pollInterval time.Duration
	waitTimeout  time.Duration
	pushgateway  string
}

var flags uploadFlags

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload one or more clips",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runUpload(ctx, args, flags)
	},
}

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&flags.priority, "priority", string(uploadqueue.PriorityNormal), "low, normal, high or urgent")
	f.Float64Var(&flags.start, "start", 0, "window start in seconds")
	f.Float64Var(&flags.end, "end", 0, "window end in seconds, 0 for as much as the cap allows")
	f.StringVar(&flags.charterID, "charter", "", "charter the clips belong to")
	f.IntVar(&flags.concurrency, "concurrency", 2, "simultaneous uploads")
	f.BoolVar(&flags.wait, "wait", true, "wait for server-side normalization to finish")
	f.DurationVar(&flags.pollInterval, "poll-interval", 5*time.Second, "status poll interval while waiting")
	f.DurationVar(&flags.waitTimeout, "wait-timeout", 20*time.Minute, "give up waiting for normalization after this long")
	f.StringVar(&flags.pushgateway, "pushgateway", "", "push upload metrics to this Prometheus pushgateway")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(ctx context.Context, files []string, fl uploadFlags) error {
	conf, err := config.LoadWorkerConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCloser := application.InitLogger(*conf, "uploader")
	defer logCloser.Close()

	if !conf.ObjectStoreConfigured() {
		return errors.New("S3_BUCKET is required to upload")
	}
	token := viper.GetString("CAPTAIN_TOKEN")
	if token == "" {
		return errors.New("an API token is required: pass --token or set CAPTAIN_TOKEN")
	}
	owner, err := uploadclient.OwnerFromToken(token)
	if err != nil {
		return err
	}

	objects, err := objectstore.Open(ctx, *conf)
	if err != nil {
		return err
	}
	prep := precheck.New(time.Duration(conf.MaxClipSeconds) * time.Second)
	client := uploadclient.New(viper.GetString("CAPTAIN_API_URL"), token, owner, objects, prep)
	defer client.Close()

	q := uploadqueue.New(client,
		uploadqueue.WithMaxConcurrent(fl.concurrency),
		uploadqueue.WithAnalytics(metrics.UploadAnalytics{}),
		uploadqueue.WithErrorHandler(func(err error) {
			slog.Error("upload queue error", "error", err)
		}),
	)
	defer q.Close()

	unsubscribe := q.Subscribe(newProgressLogger().observe)
	defer unsubscribe()

	meta := metaFromFlags(fl)
	priority := uploadqueue.ParsePriority(fl.priority)
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		file := uploadqueue.File{Path: path, Name: filepath.Base(path), Size: info.Size()}
		if _, err := q.Enqueue(file, uploadqueue.EnqueueOptions{Priority: priority, Meta: meta}); err != nil {
			return err
		}
	}

	if err := q.Wait(ctx); err != nil {
		return err
	}

	if fl.wait {
		waitCtx, cancel := context.WithTimeout(ctx, fl.waitTimeout)
		err := awaitProcessing(waitCtx, q, client, fl.pollInterval)
		cancel()
		if err != nil {
			slog.Warn("stopped waiting for normalization", "error", err)
		}
	}

	if fl.pushgateway != "" {
		if err := push.New(fl.pushgateway, "captain_uploader").Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
			slog.Warn("failed to push metrics", "error", err)
		}
	}

	return summarize(q.Items())
}

func metaFromFlags(fl uploadFlags) map[string]string {
	meta := map[string]string{}
	if fl.start > 0 {
		meta[uploadclient.MetaStart] = strconv.FormatFloat(fl.start, 'f', -1, 64)
	}
	if fl.end > 0 {
		meta[uploadclient.MetaEnd] = strconv.FormatFloat(fl.end, 'f', -1, 64)
	}
	if fl.charterID != "" {
		meta[uploadclient.MetaCharterID] = fl.charterID
	}
	return meta
}

// progressLogger logs status changes and every quarter of progress.
type progressLogger struct {
	mu   sync.Mutex
	seen map[string]string
}

func newProgressLogger() *progressLogger {
	return &progressLogger{seen: map[string]string{}}
}

func (p *progressLogger) observe(items []uploadqueue.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range items {
		key := fmt.Sprintf("%s/%d", it.Status, int(it.Progress*4))
		if p.seen[it.ID] == key {
			continue
		}
		p.seen[it.ID] = key

		fields := []any{
			"file", it.File.Name,
			"status", it.Status,
			"sent", humanize.Bytes(uint64(it.BytesSent)),
			"attempt", it.Attempts,
		}
		if it.RetryAt != nil {
			fields = append(fields, "retry_at", it.RetryAt.Format(time.TimeOnly))
		}
		if it.Error != nil {
			fields = append(fields, "error", it.Error.Message)
		}
		slog.Info("upload", fields...)
	}
}

func summarize(items []uploadqueue.Item) error {
	var failed int
	for _, it := range items {
		fields := []any{"file", it.File.Name, "status", it.Status}
		if it.Result != nil && it.Result.Record != nil {
			fields = append(fields, "video_id", it.Result.Record.ID, "video_status", it.Result.Record.Status)
			if url := it.Result.Record.ReadyURL; url != "" {
				fields = append(fields, "url", url)
			}
		}
		if it.Status == uploadqueue.StatusError || it.Status == uploadqueue.StatusCanceled {
			failed++
		}
		slog.Info("result", fields...)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(items))
	}
	return nil
}
