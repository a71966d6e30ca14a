package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/api"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/archive"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/config"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/db"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/enrich"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/logging"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/storage"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

// cmd/ingest imports an archive into the database and exits. While it runs,
// a websocket on HTTP_ADDR at /progress streams decoding progress. With a
// bucket configured, the archive's media files are mirrored up afterwards so
// the api binary can serve them without the extracted archive on disk.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	if cfg.DBDSN == "" {
		logger.Error("missing_db_dsn")
		os.Exit(1)
	}

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

	var source enrich.Source = enrich.NoopSource{}
	if cfg.TwitterBearerToken != "" {
		source = enrich.NewTwitterSource(cfg.TwitterBearerToken, logger)
		logger.Info("bearer_token_configured", "token", logging.MaskToken(cfg.TwitterBearerToken))
	} else {
		logger.Warn("no_bearer_token", "effect", "user profiles will not be resolved")
	}

	importer := archive.NewImporter(cfg.ArchivePath, st, source, logger)

	progress := api.NewProgressServer(logger, func() api.ProgressReport {
		file, pct, events := importer.Progress()
		return api.ProgressReport{File: file, Percentage: pct * 100, Events: events}
	})
	mux := http.NewServeMux()
	mux.Handle("/progress", progress)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("progress_listen_failed", "error", err)
		}
	}()

	start := time.Now()
	if err := importer.Run(ctx); err != nil {
		logger.Error("import_failed", "error", err)
		os.Exit(1)
	}
	progress.Finish()
	logger.Info("import_finished", "elapsed", time.Since(start).String())

	if cfg.S3Bucket != "" {
		s3store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint: cfg.S3Endpoint,
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
		}, logger)
		if err != nil {
			logger.Error("s3_init_failed", "error", err)
			os.Exit(1)
		}
		local := storage.NewLocalStore(cfg.ArchivePath + "/data")
		if err := s3store.Mirror(ctx, local); err != nil {
			logger.Error("media_mirror_failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
