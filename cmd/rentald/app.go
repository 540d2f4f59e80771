package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/c0deZ3R0/go-rental-sync/changes"
	"github.com/c0deZ3R0/go-rental-sync/config"
	"github.com/c0deZ3R0/go-rental-sync/geocoding"
	"github.com/c0deZ3R0/go-rental-sync/listings"
	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/metrics"
	"github.com/c0deZ3R0/go-rental-sync/propagation"
	"github.com/c0deZ3R0/go-rental-sync/push"
	"github.com/c0deZ3R0/go-rental-sync/search"
	"github.com/c0deZ3R0/go-rental-sync/storage/postgres"
	"github.com/c0deZ3R0/go-rental-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-rental-sync/storage/sqlstore"
	"github.com/c0deZ3R0/go-rental-sync/transport/httpapi"
	"github.com/c0deZ3R0/go-rental-sync/transport/sse"
	"github.com/c0deZ3R0/go-rental-sync/transport/ws"
)

// app is a fully wired rentald instance.
type app struct {
	handler     http.Handler
	store       *sqlstore.Store
	index       *search.FTSIndex
	coordinator *changes.Coordinator
	broadcaster *push.Broadcaster
	ws          *ws.Handler
	sse         *sse.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var collector metrics.Collector
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		p := metrics.NewPrometheus(cfg.Metrics.Namespace)
		collector, metricsHandler = p, p.Handler()
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		a.store, err = postgres.New(ctx, &postgres.Config{ConnectionString: cfg.Storage.DSN, Logger: logger})
	default:
		a.store, err = sqlite.New(ctx, &sqlite.Config{DataSourceName: cfg.Storage.DSN, EnableWAL: true, Logger: logger})
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Search.DSN == "" {
		a.index, err = search.NewFTSIndex(ctx, a.store.DB(), logger)
	} else {
		a.index, err = search.OpenFTSIndex(ctx, cfg.Search.DSN, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}

	a.coordinator = changes.NewCoordinator(changes.Config{Metrics: collector})
	a.broadcaster = push.NewBroadcaster(push.Config{Logger: logger, Metrics: collector})

	var advancer propagation.Advancer
	if !cfg.Realtime.PushOnly {
		advancer = a.coordinator
	}
	orchestrator, err := propagation.New(propagation.Config{
		Index:     a.index,
		Publisher: a.broadcaster,
		Advancer:  advancer,
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return nil, err
	}

	var geocoder listings.Geocoder
	if cfg.Geocoding.Enabled {
		geocoder = geocoding.NewClient(cfg.Geocoding.BaseURL,
			geocoding.WithUserAgent(cfg.Geocoding.UserAgent),
			geocoding.WithLanguage(cfg.Geocoding.Language),
			geocoding.WithHTTPClient(&http.Client{Timeout: cfg.Geocoding.Timeout()}),
		)
	}

	svc, err := listings.NewService(listings.Config{Store: a.store, Propagator: orchestrator, Geocoder: geocoder, Logger: logger})
	if err != nil {
		return nil, err
	}

	a.ws = ws.NewHandler(ws.Config{Broker: a.broadcaster, Logger: logger, QueueSize: cfg.Realtime.QueueSize})
	a.sse = sse.NewServer(a.broadcaster, logger)
	a.sse.QueueSize = cfg.Realtime.QueueSize

	server, err := httpapi.NewServer(httpapi.Config{
		Coordinator:    a.coordinator,
		Publisher:      a.broadcaster,
		Listings:       svc,
		Reader:         a.store,
		Search:         a.index,
		Geocoder:       geocoder,
		Logger:         logger,
		DevEndpoints:   cfg.Realtime.DevEndpoints,
		DefaultTimeout: cfg.Realtime.DefaultTimeout(),
		WebSocket:      a.ws,
		Events:         a.sse.Handler(),
		Metrics:        metricsHandler,
	})
	if err != nil {
		return nil, err
	}
	a.handler = server

	logger.Info("rentald wired",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("shared_search_db", cfg.Search.DSN == ""),
		slog.Bool("push_only", cfg.Realtime.PushOnly),
		slog.Bool("dev_endpoints", cfg.Realtime.DevEndpoints),
		slog.Bool("geocoding", cfg.Geocoding.Enabled),
	)
	return a, nil
}

// disconnect ends every push stream so the HTTP server can drain.
func (a *app) disconnect() {
	if a.ws != nil {
		a.ws.Close()
	}
	if a.sse != nil {
		a.sse.Close()
	}
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
}

func (a *app) close() error {
	a.disconnect()
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
