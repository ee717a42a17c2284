package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/line-relay/internal/config"
	"github.com/omochice/line-relay/internal/metrics"
	"github.com/omochice/line-relay/internal/relay"
)

func serveCmd() *cobra.Command {
	var (
		configPath  string
		addr        string
		wsAddr      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("ws-addr") {
				cfg.WebSocketAddr = wsAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "TCP listen address (overrides configuration)")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "WebSocket listen address (overrides configuration)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus endpoint address (overrides configuration)")

	return cmd
}

func runServe(cfg config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	srv := relay.New(cfg.ListenAddr,
		relay.WithWebSocketAddr(cfg.WebSocketAddr),
		relay.WithLogger(logger),
		relay.WithMetrics(m),
		relay.WithMaxLineLength(cfg.MaxLineLength),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithEventBuffer(cfg.EventBuffer),
	)

	if err := srv.ListenAndServe(ctx); !errors.Is(err, relay.ErrServerClosed) {
		return err
	}
	logger.Info("shut down")
	return nil
}
