package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/detect"
	"github.com/TITAN-Softwork-Solutions/Vigil/ingest"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"github.com/TITAN-Softwork-Solutions/Vigil/notify"
	"github.com/TITAN-Softwork-Solutions/Vigil/util/goroutine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statsQueryTimeout bounds the SQLite reads behind /stats
const statsQueryTimeout = 2 * time.Second

// Options are the process-level settings that do not live in the config file
type Options struct {
	ConfigPath string
	Verbose    bool
	// InputPath is the event source; "" or "-" reads JSON lines from stdin
	InputPath string
	// SnapshotPath is an optional recorded pre-trace snapshot
	SnapshotPath string
	// ProcSnapshot seeds running processes from procfs and resolves images
	// of pids first seen mid-stream through /proc. Only meaningful when the
	// events come from this host.
	ProcSnapshot bool
}

// Stats is served on the metrics endpoint's /stats
type Stats struct {
	Session  string                 `json:"session"`
	Uptime   string                 `json:"uptime"`
	Detector detect.Stats           `json:"detector"`
	Sinks    notify.DispatcherStats `json:"sinks"`
	Source   *ingest.SourceStats    `json:"source,omitempty"`
	Storage  *StorageStats          `json:"storage,omitempty"`
}

// App is one detection session with all its components
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Sugar     *zap.SugaredLogger
	SessionID string

	Storage    *StorageComponents
	Dispatcher *notify.Dispatcher
	Detector   *detect.Detector
	Metrics    *metrics.Server

	source       ingest.Source
	sourceCloser io.Closer
	sourceCancel context.CancelFunc
	sourceDone   chan struct{}
	sourceErr    error

	startedAt    time.Time
	serviceWg    sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApp loads the configuration and builds every component. Nothing runs
// until Start. Any error here is a startup failure.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	logger, sugar, err := InitLogger(opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sessionID := uuid.NewString()
	sugar = sugar.With("session", sessionID)

	app := &App{
		Logger:     logger,
		Sugar:      sugar,
		SessionID:  sessionID,
		sourceDone: make(chan struct{}),
	}
	sugar.Info("Vigil starting...")

	cfg, err := InitConfig(opts.ConfigPath, sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureLogDir(cfg.Sinks.LogDir, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	stores, err := InitStorage(cfg, sessionID, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = stores

	sinks, err := InitSinks(ctx, cfg, opts, sessionID, stores, sugar)
	if err != nil {
		app.closeStorage()
		return nil, err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfigFrom(cfg), sinks, sugar)
	if err != nil {
		for _, s := range sinks {
			_ = s.Close()
		}
		app.closeStorage()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	app.Dispatcher = dispatcher

	var dlq detect.DeadLetterSink
	if stores.DeadLetter != nil {
		dlq = stores.DeadLetter
	}
	detector, err := InitDetector(ctx, cfg, opts, dispatcher.Handle, dlq, sugar)
	if err != nil {
		app.abort()
		return nil, err
	}
	app.Detector = detector

	source, closer, err := ingest.OpenSource(opts.InputPath, sugar)
	if err != nil {
		app.abort()
		return nil, err
	}
	app.source = source
	app.sourceCloser = closer

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewServer(cfg.Metrics.Listen, func() interface{} { return app.Stats() }, sugar)
	}

	return app, nil
}

// Start launches the dispatcher, the detector, the metrics endpoint and the
// event source, in that order
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()

	if err := a.Dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	a.Detector.Start(ctx)

	if a.Metrics != nil {
		if err := a.Metrics.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server on %s: %w", a.Config.Metrics.Listen, err)
		}
	}

	sourceCtx, cancel := context.WithCancel(ctx)
	a.sourceCancel = cancel
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer close(a.sourceDone)
		defer goroutine.Recover("source-"+a.source.Name(), a.Sugar)

		a.Sugar.Infow("Event source started", "source", a.source.Name())
		if err := a.source.Run(sourceCtx, a.Detector.Sequencer()); err != nil {
			a.sourceErr = err
			a.Sugar.Errorw("Event source failed", "source", a.source.Name(), "error", err)
			return
		}
		a.Sugar.Infow("Event source finished", "source", a.source.Name())
	}()

	a.Sugar.Infow("Vigil running", "rules", len(a.Config.Watch.Protected))
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, the end of the input or ctx
// cancellation, and returns which one it was
func (a *App) WaitForShutdown(ctx context.Context) string {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		return sig.String()
	case <-a.sourceDone:
		return "end of input"
	case <-ctx.Done():
		return "context cancelled"
	}
}

// SourceErr returns the error the event source stopped with, if any
func (a *App) SourceErr() error {
	select {
	case <-a.sourceDone:
		return a.sourceErr
	default:
		return nil
	}
}

// Shutdown stops the source, lets the detector drain and flush, waits for
// the sinks to deliver what is queued, then closes storage. It is safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.Sugar.Info("Shutting down...")
	var errs []error

	a.Sugar.Info("Phase 1: Stopping event source...")
	if a.sourceCancel != nil {
		a.sourceCancel()
	}
	if a.sourceCloser != nil {
		if err := a.sourceCloser.Close(); err != nil {
			a.Sugar.Warnw("Failed to close event source", "error", err)
		}
	}

	a.Sugar.Info("Phase 2: Draining detector...")
	if a.Detector != nil {
		if err := a.Detector.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("detector: %w", err))
			a.Sugar.Errorw("Detector did not drain in time", "error", err)
		}
	}

	a.Sugar.Info("Phase 3: Flushing sinks...")
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sinks: %w", err))
			a.Sugar.Errorw("Sink shutdown failed", "error", err)
		}
	}

	a.Sugar.Info("Phase 4: Stopping metrics server...")
	if a.Metrics != nil {
		if err := a.Metrics.Stop(ctx); err != nil {
			a.Sugar.Warnw("Failed to stop metrics server", "error", err)
		}
	}

	// a source blocked on stdin cannot be interrupted; do not wait for it
	if a.sourceCloser != nil && a.source != nil && a.source.Name() != "stdin" {
		a.serviceWg.Wait()
	}

	a.Sugar.Info("Phase 5: Closing storage...")
	if err := a.closeStorage(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if a.Detector != nil {
		stats := a.Stats()
		a.Sugar.Infow("Session summary",
			"events_accepted", stats.Detector.Sequencer.Accepted,
			"events_dropped", stats.Detector.Sequencer.IngressDropped,
			"events_malformed", stats.Detector.Sequencer.Malformed,
			"events_late", stats.Detector.Sequencer.Late,
			"accesses_matched", stats.Detector.Engine.AccessesMatched,
			"alerts_emitted", stats.Detector.Engine.AlertsEmitted,
			"alerts_suppressed", stats.Detector.Engine.AlertsSuppressed,
			"alerts_delivered_dropped", stats.Sinks.Dropped)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// Stats collects the counters of every component
func (a *App) Stats() Stats {
	stats := Stats{Session: a.SessionID}
	if !a.startedAt.IsZero() {
		stats.Uptime = time.Since(a.startedAt).Round(time.Second).String()
	}
	if a.Detector != nil {
		stats.Detector = a.Detector.Stats()
	}
	if a.Dispatcher != nil {
		stats.Sinks = a.Dispatcher.Stats()
	}
	select {
	case <-a.sourceDone:
		if s, ok := a.source.(interface{ Stats() ingest.SourceStats }); ok {
			src := s.Stats()
			stats.Source = &src
		}
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsQueryTimeout)
	defer cancel()
	storageStats, err := a.Storage.Stats(ctx, a.SessionID)
	if err != nil {
		a.Sugar.Debugw("Storage stats unavailable", "error", err)
	} else {
		stats.Storage = storageStats
	}
	return stats
}

// abort releases what NewApp built before a later step failed
func (a *App) abort() {
	if a.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Dispatcher.Stop(ctx)
	}
	_ = a.closeStorage()
}

func (a *App) closeStorage() error {
	if a.Storage == nil {
		return nil
	}
	err := a.Storage.Close()
	a.Storage = nil
	if err != nil {
		a.Sugar.Errorw("Failed to close storage", "error", err)
	}
	return err
}
