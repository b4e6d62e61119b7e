package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/rtvad/internal/config"
	"github.com/chriscow/rtvad/internal/observe"
	"github.com/chriscow/rtvad/internal/stream"
	"github.com/chriscow/rtvad/pkg/version"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve voice activity detection over websockets",
	Long: `Accept websocket connections on server.addr and run one detector per
connection. Prometheus metrics are served on server.metrics_addr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		logger.Info("Starting server",
			slog.String("service", "rtvad"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("addr", cfg.Server.Addr),
			slog.String("source", cfg.Source.Name))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runServe(ctx, cfg, logger)
	},
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "rtvad",
		ServiceVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise metrics: %w", err)
	}

	srv, err := stream.NewServer(stream.Options{
		Engine:          ecfg,
		Source:          cfg.Source.Name,
		SourceOptions:   cfg.Source.Options,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		WriteTimeout:    cfg.Server.WriteTimeout,
		PingInterval:    cfg.Server.PingInterval,
	}, stream.WithLogger(logger), stream.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("Listening", slog.String("addr", hs.Addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{srv.Shutdown(sctx)}
		for _, hs := range servers {
			errs = append(errs, hs.Shutdown(sctx))
		}
		errs = append(errs, shutdownMetrics(sctx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}
