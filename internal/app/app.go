// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/config"
	"github.com/rovshanmuradov/txlife/internal/events"
	"github.com/rovshanmuradov/txlife/internal/logger"
	"github.com/rovshanmuradov/txlife/internal/notify"
	"github.com/rovshanmuradov/txlife/internal/storage"
	"github.com/rovshanmuradov/txlife/internal/storage/postgres"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

const (
	journalFlushInterval = time.Second
	serviceCloseTimeout  = 10 * time.Second
)

// Options configures New.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	// Publisher overrides the JetStream publisher built from Config.NATSURL.
	Publisher notify.Publisher
	// Storage overrides the PostgreSQL storage built from Config.DatabaseDSN.
	Storage storage.Storage
}

// App wires a lifecycle Manager to the event bus and its sinks: CSV journal, event storage,
// NATS forwarder and the metrics endpoint.
type App struct {
	Manager  *transaction.Manager
	Bus      *events.Bus
	Metrics  *transaction.Metrics
	Registry *prometheus.Registry

	logger      *zap.Logger
	shutdown    *ShutdownHandler
	metricsAddr net.Addr
}

// New builds the application around adapter. Services that fail to start are closed again.
func New(ctx context.Context, adapter blockchain.Adapter, opts Options) (*App, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	a := &App{
		Registry: prometheus.NewRegistry(),
		logger:   log,
		shutdown: NewShutdownHandler(log),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.start(ctx, adapter, cfg, opts.Publisher, opts.Storage); err != nil {
		_ = a.shutdown.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) start(ctx context.Context, adapter blockchain.Adapter, cfg *config.Config, publisher notify.Publisher, store storage.Storage) error {
	if publisher == nil && cfg.NATSURL != "" {
		js, err := notify.NewJetStreamPublisher(ctx, notify.Options{
			URL:           cfg.NATSURL,
			Stream:        cfg.NATSStream,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		}, a.logger)
		if err != nil {
			return err
		}
		publisher = js
	}
	if publisher != nil {
		a.shutdown.Add("publisher", publisher)
	}

	if store == nil && cfg.DatabaseDSN != "" {
		pg, err := postgres.NewStorage(cfg.DatabaseDSN, a.logger)
		if err != nil {
			return err
		}
		a.shutdown.Add("storage", pg)
		if err := pg.RunMigrations(); err != nil {
			return err
		}
		store = pg
	} else if store != nil {
		a.shutdown.Add("storage", store)
	}

	a.Bus = events.NewBus(a.logger, cfg.EventBuffer)
	if cfg.JournalFile != "" {
		journal, err := logger.NewJournal(cfg.JournalFile, journalFlushInterval, a.logger)
		if err != nil {
			_ = a.Bus.Shutdown(context.Background())
			return err
		}
		a.shutdown.Add("journal", journal)
		journal.Subscribe(a.Bus)
	}
	if store != nil {
		storage.NewRecorder(store, a.logger).Subscribe(a.Bus)
	}
	if publisher != nil {
		notify.NewForwarder(publisher, a.logger).Subscribe(a.Bus)
	}
	// The bus drains before the sinks registered above are closed.
	a.shutdown.AddFunc("event-bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serviceCloseTimeout)
		defer cancel()
		return a.Bus.Shutdown(ctx)
	})

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			return err
		}
	}

	a.Metrics = transaction.NewMetrics(a.Registry)
	a.Manager = transaction.NewManager(adapter, a.logger, cfg.TransactionConfig(), a.Metrics)
	events.Attach(a.Manager, a.Bus, a.logger)
	a.shutdown.AddFunc("tx-manager", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serviceCloseTimeout)
		defer cancel()
		return a.Manager.Close(ctx)
	})

	return nil
}

func (a *App) serveMetrics(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	a.metricsAddr = listener.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("Serving metrics", zap.String("addr", a.metricsAddr.String()))

	a.shutdown.AddFunc("metrics-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serviceCloseTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	})
	return nil
}

// MetricsAddr returns the address the metrics endpoint listens on, nil when disabled.
func (a *App) MetricsAddr() net.Addr {
	return a.metricsAddr
}

// AddCloser registers closer to run after every other service stopped, e.g. the network
// adapter the manager polls.
func (a *App) AddCloser(name string, closer io.Closer) {
	a.shutdown.AddBase(name, closer)
}

// Close stops the manager, then flushes the bus and closes every sink.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
