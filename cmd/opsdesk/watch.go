package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	opshttp "github.com/fyrsmithlabs/opsdesk/internal/http"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
)

func (a *app) newWatchCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Hold the operator's realtime room open without a UI",
		Long: `Run headless: keep the operator's identity room joined, track the
unresolved-issue count and expose it over HTTP.

Endpoints:
  GET /health   transport health, operator and unresolved count (503 while disconnected)
  GET /metrics  Prometheus metrics

Examples:
  opsdesk watch
  opsdesk watch --port 9300`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.HTTP.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}

			logger, err := newLogger(cfg, "")
			if err != nil {
				return err
			}
			defer logger.Close()

			rt, err := newDeskRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			server, err := opshttp.NewServer(rt.desk, rt.registry, logger, &opshttp.Config{
				Host: cfg.HTTP.Host,
				Port: cfg.HTTP.Port,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = rt.run(ctx,
				func(ctx context.Context) error {
					errCh := make(chan error, 1)
					go func() { errCh <- server.Start() }()
					select {
					case err := <-errCh:
						return err
					case <-ctx.Done():
					}
					shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
					defer cancel()
					if err := server.Shutdown(shutdownCtx); err != nil {
						return fmt.Errorf("http shutdown: %w", err)
					}
					return <-errCh
				},
				func(ctx context.Context) error {
					pollUnresolved(ctx, rt, logger, cfg.Console.RefreshInterval)
					return nil
				},
			)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides http.host)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP listen port (overrides http.port)")
	return cmd
}

// pollUnresolved refreshes the unresolved count every interval while an
// operator is logged in. Pushed notify events refresh it in between.
func pollUnresolved(ctx context.Context, rt *deskRuntime, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		if rt.conns.Identity().Available() {
			callCtx, cancel := context.WithTimeout(ctx, rt.cfg.API.Timeout)
			n, err := rt.desk.RefreshUnresolved(callCtx)
			cancel()
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Warn(ctx, "failed to refresh unresolved count", zap.Error(err))
			case err == nil && n != last:
				logger.Info(ctx, "unresolved conversations", zap.Int("count", n))
				last = n
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
