package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/aretw0/waypoint"
	httpAdapter "github.com/aretw0/waypoint/pkg/adapters/http"
	"github.com/aretw0/waypoint/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve [agent.yaml]",
	Short: "Start the HTTP server",
	Long:  `Serves the agent's sessions as a JSON API over HTTP, with SSE updates and Prometheus metrics.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle(cmd, args)
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, b)
		if err != nil {
			return err
		}

		registry := prometheus.NewRegistry()
		collector := metrics.New()
		registry.MustRegister(collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := append(agentOptions(cmd, logger), waypoint.WithLifecycleHooks(collector.Hooks()))
		agent, err := waypoint.New(ctx, b, opts...)
		if err != nil {
			return fmt.Errorf("failed to build agent: %w", err)
		}
		defer agent.Close()

		addr := b.Config.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		origins, _ := cmd.Flags().GetStringSlice("allow-origin")

		srv := &http.Server{
			Addr: addr,
			Handler: httpAdapter.NewHandler(agent,
				httpAdapter.WithLogger(logger),
				httpAdapter.WithMetrics(registry),
				httpAdapter.WithAllowedOrigins(origins...),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting Waypoint Server", "address", srv.Addr, "agent", b.Name)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("Start shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			logger.Info("Waypoint Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (defaults to runtime.addr)")
	serveCmd.Flags().StringSlice("allow-origin", nil, "CORS allowed origins")
}
