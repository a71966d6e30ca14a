package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/api"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/archive"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/config"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/db"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/enrich"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/logging"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/redis"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/storage"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/traverse"
)

// The combined binary: import the archive if the store is empty, then serve
// it. With no DB_DSN everything lives in memory and the archive is re-read
// on every start, which is the zero-setup way to browse an export.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if cfg.DBDSN != "" {
		dbConn, err := db.New(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db_connect_failed", "error", err)
			os.Exit(1)
		}
		defer dbConn.Close()
		st, err = store.NewPostgres(ctx, dbConn, logger)
		if err != nil {
			logger.Error("store_init_failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no_db_dsn", "effect", "using in-memory store, nothing will persist")
		st = store.NewMemory()
	}

	owner, err := st.Owner(ctx)
	if err != nil {
		logger.Error("store_check_failed", "error", err)
		os.Exit(1)
	}

	var progress *api.ProgressServer
	if owner == "" {
		var source enrich.Source = enrich.NoopSource{}
		if cfg.TwitterBearerToken != "" {
			source = enrich.NewTwitterSource(cfg.TwitterBearerToken, logger)
		}
		importer := archive.NewImporter(cfg.ArchivePath, st, source, logger)
		progress = api.NewProgressServer(logger, func() api.ProgressReport {
			file, pct, events := importer.Progress()
			return api.ProgressReport{File: file, Percentage: pct * 100, Events: events}
		})
		go func() {
			if err := importer.Run(ctx); err != nil {
				logger.Error("import_failed", "error", err)
				os.Exit(1)
			}
			progress.Finish()
		}()
	} else {
		logger.Info("archive_already_imported", "owner_id", owner)
	}

	var cache *redis.Client
	if cfg.RedisDSN != "" {
		cache, err = redis.New(cfg.RedisDSN)
		if err != nil {
			logger.Error("redis_connect_failed", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
	}

	var media storage.MediaStore
	if cfg.S3Bucket != "" {
		media, err = storage.NewS3Store(ctx, storage.S3Config{
			Endpoint: cfg.S3Endpoint,
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
		}, logger)
		if err != nil {
			logger.Error("s3_init_failed", "error", err)
			os.Exit(1)
		}
	} else {
		media = storage.NewLocalStore(cfg.ArchivePath + "/data")
	}

	engine := traverse.NewEngine(st, logger)
	srv := api.NewServer(logger, st, engine, media, cache, cfg, progress)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server_started", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	logger.Info("stopped")
}
