package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/chat"
	"github.com/fyrsmithlabs/opsdesk/internal/config"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
)

// deskRuntime is the long-running stack shared by console and watch: the
// session watcher feeding the connection manager, and the desk on top.
type deskRuntime struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	watcher  *identity.Watcher
	conns    *chat.ConnectionManager
	desk     *chat.Desk
}

func newDeskRuntime(cfg *config.Config, logger *logging.Logger) (*deskRuntime, error) {
	store := sessionStore(cfg)

	opts := []api.Option{api.WithLogger(logger)}
	if !cfg.API.Token.IsSet() {
		opts = append(opts, api.WithTokenSource(store))
	}
	client, err := api.NewClient(cfg.API, cfg.API.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	watcher, err := identity.NewWatcher(store, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(registry)

	conns := chat.NewConnectionManager(
		realtime.NewNATSDialer(cfg.Realtime, logger),
		chat.WithManagerLogger(logger),
		chat.WithManagerMetrics(metrics),
	)
	desk := chat.NewDesk(client, conns,
		chat.WithDeskLogger(logger),
		chat.WithDeskMetrics(metrics),
	)

	return &deskRuntime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		watcher:  watcher,
		conns:    conns,
		desk:     desk,
	}, nil
}

// run starts the session watcher and keeps the connection in line with the
// session until ctx is done. Extra functions run in the same group; the
// first to return cancels the rest.
func (r *deskRuntime) run(ctx context.Context, fns ...func(context.Context) error) error {
	if err := r.watcher.Start(ctx); err != nil {
		return err
	}
	defer r.watcher.Stop()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return r.conns.Run(ctx, r.watcher)
	})
	for _, fn := range fns {
		g.Go(func() error {
			defer cancel()
			return fn(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (r *deskRuntime) close() {
	ctx := context.Background()
	r.desk.Close(ctx)
	if err := r.conns.Close(); err != nil {
		r.logger.Warn(ctx, "failed to close realtime connection", zap.Error(err))
	}
}
