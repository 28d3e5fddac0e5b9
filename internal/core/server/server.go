// Package server wires configuration into a running service: adapters, cell
// stores, tile cache, orchestrator, optional Kafka invalidation and the HTTP
// listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/adapters"
	"github.com/hazardgrid/h3-risk-service/internal/adapters/mock"
	"github.com/hazardgrid/h3-risk-service/internal/adapters/raster"
	"github.com/hazardgrid/h3-risk-service/internal/cache/cellstore"
	"github.com/hazardgrid/h3-risk-service/internal/cache/keys"
	"github.com/hazardgrid/h3-risk-service/internal/cache/redisstore"
	"github.com/hazardgrid/h3-risk-service/internal/cache/tilecache"
	"github.com/hazardgrid/h3-risk-service/internal/core/config"
	"github.com/hazardgrid/h3-risk-service/internal/core/health"
	"github.com/hazardgrid/h3-risk-service/internal/core/httpclient"
	imw "github.com/hazardgrid/h3-risk-service/internal/core/middleware"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
	"github.com/hazardgrid/h3-risk-service/internal/core/router"
	"github.com/hazardgrid/h3-risk-service/internal/invalidation/kafkaconsumer"
	"github.com/hazardgrid/h3-risk-service/internal/logger"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
	"github.com/hazardgrid/h3-risk-service/internal/orchestrator"
	"github.com/hazardgrid/h3-risk-service/internal/precip"
)

var Version = "dev"

// buildAdapters selects the dataset pipeline. Mock adapters serve synthetic
// but deterministic data; the real pipeline samples the downloaded grids and
// calls the precipitation service.
func buildAdapters(cfg config.Config, mapr *h3mapper.Mapper, zlog zerolog.Logger) (*adapters.Set, string, error) {
	if !cfg.UseRealData {
		return adapters.NewSet(
			mock.NewElevation(mapr),
			mock.NewElsus(mapr),
			mock.NewSeismicPGA(mapr),
			mock.NewLandCover(mapr),
			mock.NewPrecipitation(mapr),
		), keys.SourceMock, nil
	}

	demClient := httpclient.NewOutbound(5 * time.Minute)
	elevation, err := raster.NewElevation(cfg.ElevationTileURL, cfg.RawDataDir, demClient, mapr, zlog)
	if err != nil {
		return nil, "", fmt.Errorf("elevation adapter: %w", err)
	}

	precipClient := precip.NewClient(cfg.PrecipURL,
		httpclient.NewOutbound(cfg.PrecipTimeout), cfg.PrecipChunkSize, zlog)

	return adapters.NewSet(
		elevation,
		raster.NewElsus(cfg.ElsusPath, mapr, zlog),
		raster.NewSeismicPGA(cfg.PGAPath, mapr, zlog),
		raster.NewLandCover(cfg.ClcPath, mapr, zlog),
		precip.NewAdapter(precipClient),
	), keys.SourceRealPrecip, nil
}

// buildStores selects the cell-store backend. Only one of the returned
// closers owns the underlying Redis connection.
func buildStores(ctx context.Context, cfg config.Config, zlog zerolog.Logger) (cellstore.V2Store, cellstore.V1Store, func(), error) {
	if cfg.CellStore == "redis" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis cell store: %w", err)
		}
		closer := func() { _ = rc.Close() }
		return cellstore.NewRedisV2(rc), cellstore.NewRedisV1(rc), closer, nil
	}

	v2 := cellstore.NewFileV2(cfg.DataDir, cfg.CellFlushInterval, zlog)
	v1 := cellstore.NewFileV1(cfg.DataDir, cfg.CellFlushInterval, zlog)
	closer := func() {
		if err := v2.Close(); err != nil {
			zlog.Error().Err(err).Msg("v2 store close failed")
		}
		if err := v1.Close(); err != nil {
			zlog.Error().Err(err).Msg("v1 store close failed")
		}
	}
	return v2, v1, closer, nil
}

// Run assembles the service and blocks until the context is canceled or the
// listener fails.
func Run(ctx context.Context, cfg config.Config, zlog zerolog.Logger) error {
	slogger := logger.NewSlog(&zlog)
	observability.ExposeBuildInfo(Version)

	if cfg.DB.Configured() {
		zlog.Warn().Str("host", cfg.DB.Host).
			Msg("DB_* variables set but the Postgres cell store is not bundled; using CELL_STORE instead")
	}

	mapr := h3mapper.New()
	set, pipeline, err := buildAdapters(cfg, mapr, zlog)
	if err != nil {
		return err
	}
	zlog.Info().Str("pipeline", pipeline).Strs("adapters", set.Names()).Msg("dataset pipeline ready")

	v2store, v1store, closeStores, err := buildStores(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeStores()

	tiles := tilecache.New(int64(cfg.TileCacheBudgetMB)<<20, cfg.TileCacheTTL, cfg.TileCacheSweep)
	defer tiles.Close()

	orch := orchestrator.New(mapr, set, v2store, pipeline, zlog,
		orchestrator.WithChunkSize(cfg.RiskChunkSize),
		orchestrator.WithV1Store(v1store),
	)

	if cfg.Invalidation.Enabled {
		consumer, err := kafkaconsumer.New(
			kafkaconsumer.FromService(cfg.Invalidation), slogger, v2store, v1store, mapr, tiles)
		if err != nil {
			return fmt.Errorf("invalidation consumer: %w", err)
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				zlog.Error().Err(err).Msg("invalidation consumer stopped")
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(slogger))
	r.Use(imw.Metrics())
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	if cfg.MetricsAddr == "" {
		r.Handle("/metrics", promhttp.Handler())
	}
	router.NewHandlers(orch, tiles, cfg.H3Res, zlog).Mount(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for streamed computations over large areas.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		zlog.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mr := chi.NewRouter()
		mr.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mr, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			zlog.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listen")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		zlog.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("listener: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
