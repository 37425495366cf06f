package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maia-bench/maia/internal/app"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/transport"
	transporthttp "github.com/maia-bench/maia/pkg/transport/http"
)

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: serve takes no arguments", errUsage)
	}

	a, err := app.Open(ctx, cfg, app.Needs{Capabilities: true, Ledger: true})
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.Engine()
	if err != nil {
		return err
	}
	chain, limiter, err := app.NewAuth(cfg.Auth)
	if err != nil {
		return err
	}

	inflight := transport.NewInFlightRegistry()
	answerer := &transport.EngineAnswerer{
		Engine:     eng,
		Registry:   a.Registry,
		Table:      a.Table,
		Ledger:     a.Ledger,
		InFlight:   inflight,
		RunTimeout: cfg.Server.RunTimeout,
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}
	srv := transporthttp.NewServer(answerer, a.Ledger, inflight,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithAuth(chain, limiter),
	)

	slog.Info("maia configured",
		"port", cfg.Server.Port,
		"provider", a.Provider.Name(),
		"model", cfg.Provider.Model,
		"auth", cfg.Auth.Type,
		"storage", cfg.Storage.Type,
	)
	return srv.ListenAndServe(ctx)
}
