package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tilegate/internal/cache"
	"tilegate/internal/config"
	httphandlers "tilegate/internal/http"
	"tilegate/internal/logger"
	"tilegate/internal/mbtiles"
	"tilegate/internal/telemetry"
	"tilegate/internal/tileset_list"
	"tilegate/internal/tileset_reader"
)

func serve(cfg *config.Config) error {
	log, err := logger.New(cfg.Logger.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	log.Info("Starting tilegate",
		zap.String("version", version),
		zap.Int("port", cfg.HTTP.Port),
		zap.String("root", cfg.Root),
	)

	scanner := tileset_list.New(cfg.Root, cfg.Extension, log)
	registry, err := scanner.Scan()
	if err != nil {
		return err
	}

	handles := cache.New(registry, mbtiles.NewOpener(log), log)
	defer func() {
		if err := handles.Close(); err != nil {
			log.Warn("Failed to close archives", zap.Error(err))
		}
	}()

	if cfg.PreloadWorkers > 0 {
		go handles.Preload(ctx, cfg.PreloadWorkers)
	}

	if cfg.Watch {
		watcher := tileset_list.NewWatcher(scanner, cfg.WatchDebounce, handles.Replace, log)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("Watcher stopped", zap.Error(err))
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	handlers := httphandlers.New(tileset_reader.New(handles, log), handles, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      httphandlers.NewRouter(handlers, cfg.Telemetry.Enabled),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.HTTP.Port), zap.Int("tilesets", registry.Len()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}
