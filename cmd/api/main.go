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
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/config"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/db"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/logging"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/redis"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/storage"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/traverse"
)

// cmd/api serves an archive that has already been imported. It refuses to
// start without a database: an in-memory store would always be empty here.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	if cfg.DBDSN == "" {
		logger.Error("missing_db_dsn", "hint", "set DB_DSN, or use the combined binary with ARCHIVE_PATH")
		os.Exit(1)
	}
	logger.Info("starting_api", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	st, err := store.NewPostgres(ctx, dbConn, logger)
	if err != nil {
		logger.Error("store_init_failed", "error", err)
		os.Exit(1)
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
	srv := api.NewServer(logger, st, engine, media, cache, cfg, nil)

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

	logger.Info("api_started", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}

	logger.Info("api_stopped")
}
