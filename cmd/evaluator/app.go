package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/config"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evalsvc"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/logging"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/metrics"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/notify"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/progress"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/store"
)

// #region app

// evaluationClient is implemented by both transports.
type evaluationClient interface {
	evalsvc.Service
	Options(ctx context.Context) (modelconfig.Options, error)
}

// app holds everything a command needs, plus what has to be closed.
type app struct {
	log     logr.Logger
	db      *store.Store
	source  *modelconfig.Catalog
	orch    *orchestrator.Orchestrator
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// #endregion app

// #region setup

// setup wires the store, the evaluation client, metrics and the orchestrator.
func setup(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}
	a := &app{log: log}

	db, err := store.Open(ctx, cfg.DBPath, store.Options{ServerSelectionTimeout: cfg.ServerSelectionTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	journal, err := logging.NewJournal(ctx, db.DB())
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := newClient(cfg, log.WithName("evalsvc"))
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := client.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	fetch := modelconfig.FetchFunc(client.Options)
	if cfg.OptionsPath != "" {
		fetch = modelconfig.FileFetcher(cfg.OptionsPath)
	}
	a.source = modelconfig.NewCatalog(fetch)

	records := evaluation.NewStore(db.Collection(cfg.Collection))
	storeLog := log.WithName("store")
	records.OnChange(func(c evaluation.Change) {
		storeLog.V(1).Info("store changed", "kind", c.Kind, "records", c.Len)
	})

	ind := progress.NewIndicator()
	progressLog := log.WithName("progress")
	ind.OnChange(func(s progress.Snapshot) {
		progressLog.Info(s.String())
	})

	var m orchestrator.Metrics
	if cfg.MetricsAddr != "" {
		rec, shutdown, err := serveMetrics(cfg.MetricsAddr, log.WithName("metrics"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
		ind.OnChange(rec.ObserveProgress)
		m = rec
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Service:     client,
		Source:      a.source,
		Store:       records,
		Progress:    ind,
		Notify:      notify.NewLogSink(log.WithName("notify")),
		Log:         log.WithName("orchestrator"),
		Metrics:     m,
		Journal:     journal,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newClient(cfg config.Config, log logr.Logger) (evaluationClient, error) {
	switch cfg.Transport {
	case config.TransportGRPC:
		return evalsvc.NewGRPCClient(cfg.ServerAddr, log, evalsvc.WithGRPCRateLimit(cfg.RequestsPerSecond))
	default:
		return evalsvc.NewHTTPClient(cfg.ServerAddr,
			evalsvc.WithLogger(log),
			evalsvc.WithRateLimit(cfg.RequestsPerSecond))
	}
}

// #endregion setup

// #region metrics-server

// serveMetrics registers the recorder on a private registry and serves it on
// addr until the returned shutdown func is called.
func serveMetrics(addr string, log logr.Logger) (*metrics.Recorder, func() error, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server stopped", "addr", addr)
		}
	}()
	log.Info("serving metrics", "addr", addr)

	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return rec, shutdown, nil
}

// #endregion metrics-server
