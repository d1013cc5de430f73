// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/upload"
	"github.com/starford/ansuz/internal/watch"
)

// Run starts the application with the given options. Without watch mode it
// ingests the vault once and returns; an interrupt ends the run early with a
// nil error.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		var closeLog func() error
		logger, closeLog = newLogger(cfg.App)
		defer closeLog()
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.Duration("timeout", cfg.Pipeline.Timeout),
		slog.String("upload_mode", cfg.Upload.EffectiveMode()),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	uploader := app.uploader
	if uploader == nil {
		if uploader, err = newUploader(ctx, cfg.Upload, logger); err != nil {
			return fmt.Errorf("init uploader: %w", err)
		}
	}

	deps := pipeline.Deps{
		FS:       fs,
		Store:    db,
		Uploader: uploader,
		Parser:   frontmatter.Parser{Delimiter: cfg.Vault.Delimiter},
		Logger:   logger,
	}

	if !cfg.Watch.Enabled {
		rep, err := pipeline.NewIngester(cfg.IngestConfig(), deps).Run(ctx)
		logReport(logger, rep, err)
		return err
	}
	return runWatch(ctx, cfg, deps, fs.Root(), db, logger)
}

func runWatch(ctx context.Context, cfg *Config, deps pipeline.Deps, root string, db *index.DB, logger *slog.Logger) error {
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	tracker := api.NewTracker(cfg.Watch.Debounce)

	deps.Observer = broker
	ingester := pipeline.NewIngester(cfg.IngestConfig(), deps)
	ingest := func(ctx context.Context) error {
		tracker.Start()
		broker.RunStarted()
		rep, err := ingester.Run(ctx)
		tracker.Finish(rep, err)
		broker.RunFinished(rep, err)
		logReport(logger, rep, err)
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ingest(gCtx); err != nil && errors.Is(err, index.ErrStore) {
			return err
		}
		return watch.Run(gCtx, root, cfg.Watch.Debounce, logger, ingest)
	})

	if cfg.App.HTTP.Enabled() {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		api.Health(r, tracker)
		r.Mount("/api", api.NewRouter(tracker, db, broker))

		httpServer := &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}

// newLogger builds the JSON logger. With a log file configured, output goes
// to stdout and to a lumberjack-rotated file.
func newLogger(cfg ApplicationConfig) (*slog.Logger, func() error) {
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() error { return nil }
	)
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = rotator.Close
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closeFn
}

func newUploader(ctx context.Context, cfg UploadConfig, logger *slog.Logger) (upload.Uploader, error) {
	switch cfg.EffectiveMode() {
	case UploadModeNoop:
		return upload.Noop{}, nil
	case UploadModeDir:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		d, err := upload.NewDir(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		s3, err := upload.NewS3(ctx, upload.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Prefix:          cfg.Prefix,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Timeout:         cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
}

func logReport(logger *slog.Logger, rep pipeline.Report, err error) {
	switch {
	case err != nil:
		logger.Error("Ingest failed", slog.Any("report", rep), slog.String("error", err.Error()))
	case rep.Interrupted:
		logger.Warn("Ingest interrupted", slog.Any("report", rep))
	case rep.Failed > 0:
		logger.Warn("Ingest finished with failures", slog.Any("report", rep))
	default:
		logger.Info("Ingest finished", slog.Any("report", rep))
	}
}
