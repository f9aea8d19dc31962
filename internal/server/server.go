// Package server wires the full service together: configuration, stores,
// event buses, the session controller, the ingestion pool, and the HTTP
// transport, with graceful startup and shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/httpapi"
	"github.com/fzcomet206/musicshare/internal/ingest"
	"github.com/fzcomet206/musicshare/internal/metadatastore"
	"github.com/fzcomet206/musicshare/internal/sessioncontroller"
	"github.com/fzcomet206/musicshare/internal/storage"
	"github.com/fzcomet206/musicshare/internal/utils"
)

// Server is the composed service. Construct with NewServer, run with Start,
// and drain with Stop.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	controller *sessioncontroller.Controller
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger := utils.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())

	metadata, err := metadatastore.NewGormStore(cfg.Store.DatabaseURL)
	if err != nil {
		cancel()
		return nil, err
	}

	var blobs storage.BlobStore
	var blobProbe httpapi.Pinger
	if cfg.Store.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.Store)
		if err != nil {
			cancel()
			return nil, err
		}
		blobs = s3Store
		blobProbe = s3Store
	} else {
		logger.Warn("no S3 bucket configured, using in-memory blob store")
		blobs = storage.NewMemory()
	}

	busFactory := func(string) bus.Bus { return bus.NewLocal() }
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-process event buses", zap.Error(err))
		} else {
			busFactory = func(key string) bus.Bus {
				return bus.NewRedis(ctx, client, key, logger)
			}
		}
	}
	events := bus.NewRegistry(busFactory)
	notifiers := bus.NewRegistry(busFactory)

	extractor := ingest.NewYtDlpExtractor(cfg.Ingest)
	ingestor := ingest.New(cfg.Ingest, extractor, blobs, metadata, notifiers, logger)
	controller := sessioncontroller.New(cfg, blobs, events, ingestor, logger)

	sweepScratchDirs(cfg, logger)

	resolver := httpapi.NewUserResolver(cfg.Auth, logger)
	api := httpapi.New(controller, metadata, resolver, map[string]httpapi.Pinger{
		"database":   metadata,
		"blob_store": blobProbe,
	}, logger)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Routes(),
	}
	return s, nil
}

// Start runs the HTTP listener until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.cfg.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests, then closes every live session.
func (s *Server) Stop() {
	s.logger.Info("stopping server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown did not drain cleanly", zap.Error(err))
	}

	s.controller.Shutdown(shutdownCtx)
	s.cancel()
}

// sweepScratchDirs clears orphaned files a previous crashed process may have
// left behind. Session scratch and transcoder output are both per-run state.
func sweepScratchDirs(cfg *config.Config, logger *zap.Logger) {
	for _, dir := range []string{cfg.Media.SessionScratchDir, cfg.Ingest.ConvertedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				logger.Warn("scratch sweep failed", zap.String("path", filepath.Join(dir, e.Name())), zap.Error(err))
			}
		}
		logger.Info("swept scratch directory", zap.String("dir", dir), zap.Int("entries", len(entries)))
	}
}
