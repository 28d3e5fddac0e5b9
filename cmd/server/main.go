package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazardgrid/h3-risk-service/internal/core/config"
	"github.com/hazardgrid/h3-risk-service/internal/core/server"
	"github.com/hazardgrid/h3-risk-service/internal/logger"
)

func main() {
	cfg := config.FromEnv()
	zlog := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Component: "server",
	}, os.Stdout)

	zlog.Info().
		Str("addr", cfg.Addr).
		Str("version", server.Version).
		Bool("real_data", cfg.UseRealData).
		Str("cell_store", cfg.CellStore).
		Int("h3_res", cfg.H3Res).
		Msg("starting h3-risk-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, zlog); err != nil {
		zlog.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	zlog.Info().Msg("server stopped")
}
