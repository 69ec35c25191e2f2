// ABOUTME: Fleet wiring: store, event bus, services, metrics, dedupe, and the dispatch loop
// ABOUTME: Run serves health and metrics over HTTP and drives dispatch until the context ends

package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/probe-fleet/internal/auth"
	"github.com/2389/probe-fleet/internal/config"
	"github.com/2389/probe-fleet/internal/dedupe"
	"github.com/2389/probe-fleet/internal/deploy"
	"github.com/2389/probe-fleet/internal/dispatch"
	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/metrics"
	"github.com/2389/probe-fleet/internal/registry"
	"github.com/2389/probe-fleet/internal/schedule"
	"github.com/2389/probe-fleet/internal/store"
	"github.com/2389/probe-fleet/internal/version"
)

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxKeys = 100_000
	eventLogQueue = 256
)

// Fleet holds the wired services.
type Fleet struct {
	config *config.Config
	store  store.Store
	bus    *events.Bus
	clock  clock.Clock
	logger *slog.Logger

	versions   *version.Manager
	registry   *registry.Registry
	deploys    *deploy.Coordinator
	schedules  *schedule.Service
	monitor    *health.Monitor
	dispatcher *dispatch.Dispatcher

	collector    *metrics.Collector
	promRegistry *prometheus.Registry
	dedupe       *dedupe.Cache
	eventLog     *events.AsyncHandler

	credentials *auth.CredentialIssuer // nil when no secret is configured

	httpServer *http.Server
}

// initStore opens the SQLite store named by the config. PROBE_FLEET_DB_PATH
// overrides database.path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PROBE_FLEET_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New opens the configured store and wires a Fleet on the wall clock.
func New(cfg *config.Config, logger *slog.Logger) (*Fleet, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	f, err := NewWithStore(cfg, s, clock.WallClock, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return f, nil
}

// NewWithStore wires a Fleet around an existing store. The Fleet takes
// ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, clk clock.Clock, logger *slog.Logger) (*Fleet, error) {
	if cfg == nil {
		return nil, errors.New("fleet requires a config")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBus(logger, clk)
	versions := version.NewManager(cfg.Probes.SDKVersionMin, cfg.Probes.SDKVersionTarget)
	schedules := schedule.NewService(s, bus, clk, logger)
	monitor := health.NewMonitor(s, bus, clk, logger)

	f := &Fleet{
		config:   cfg,
		store:    s,
		bus:      bus,
		clock:    clk,
		logger:   logger.With("component", "fleet"),
		versions: versions,
		registry: registry.New(s, bus, versions, registry.Defaults{
			HeartbeatInterval: cfg.Probes.HeartbeatInterval,
			DeploymentTopic:   cfg.Probes.DeploymentTopic,
			Overlay:           cfg.Probes.Defaults,
		}, clk, logger),
		deploys:   deploy.NewCoordinator(s, bus, versions, clk, logger),
		schedules: schedules,
		monitor:   monitor,
		dispatcher: dispatch.New(s, schedules, monitor, dispatch.Config{
			Interval:  cfg.Dispatch.Interval,
			Grace:     cfg.Probes.HeartbeatGrace,
			BatchSize: cfg.Dispatch.BatchSize,
		}, clk, logger),
		collector: metrics.NewCollector(bus),
		dedupe:    dedupe.New(dedupeTTL, dedupeMaxKeys, clk),
	}

	if secret := cfg.Auth.CredentialSecret; secret != "" {
		f.credentials = auth.NewCredentialIssuer([]byte(secret), clk)
	}

	f.collector.Attach(bus)
	f.seedMetrics()
	f.promRegistry = metrics.NewRegistry(f.collector)

	f.eventLog = events.Async("event-log", dedupe.Idempotent(f.dedupe, nil, f.logEvent, logger), eventLogQueue, logger)
	bus.SubscribeAll("event-log", f.eventLog.Handle)

	return f, nil
}

// seedMetrics primes the heartbeat gauges from stored metrics.
func (f *Fleet) seedMetrics() {
	rows, err := f.store.ListProbeMetrics(context.Background())
	if err != nil {
		f.logger.Warn("failed to seed probe metrics", "error", err)
		return
	}
	f.collector.Seed(rows)
}

// logEvent writes one line per distinct event.
func (f *Fleet) logEvent(_ context.Context, evt events.Event) error {
	f.logger.Info("event", "kind", evt.Kind, "event_id", evt.ID, "payload", evt.Payload)
	return nil
}

// Store returns the record store.
func (f *Fleet) Store() store.Store { return f.store }

// Bus returns the event bus. Subscribe before publishing starts.
func (f *Fleet) Bus() *events.Bus { return f.bus }

// Registry returns the probe registry.
func (f *Fleet) Registry() *registry.Registry { return f.registry }

// Deployments returns the deployment coordinator.
func (f *Fleet) Deployments() *deploy.Coordinator { return f.deploys }

// Schedules returns the schedule service.
func (f *Fleet) Schedules() *schedule.Service { return f.schedules }

// Monitor returns the heartbeat monitor.
func (f *Fleet) Monitor() *health.Monitor { return f.monitor }

// Dispatcher returns the dispatch loop.
func (f *Fleet) Dispatcher() *dispatch.Dispatcher { return f.dispatcher }

// Collector returns the metrics collector.
func (f *Fleet) Collector() *metrics.Collector { return f.collector }

// Handler returns the HTTP handler for health and metrics endpoints.
func (f *Fleet) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", f.handleHealth)
	mux.HandleFunc("/health/ready", f.handleReady)
	if f.config.Metrics.Enabled {
		mux.Handle(f.config.Metrics.Path, metrics.Handler(f.promRegistry))
	}
	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (f *Fleet) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers queries.
func (f *Fleet) handleReady(w http.ResponseWriter, r *http.Request) {
	n, err := f.store.CountProbes(r.Context(), store.ProbeFilter{})
	if err != nil {
		f.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d probes)", n)
}

// Run serves HTTP when server.http_addr is set and runs the dispatch loop
// when dispatch is enabled. It returns after ctx is cancelled and the
// listeners are shut down.
func (f *Fleet) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if addr := f.config.Server.HTTPAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		f.httpServer = &http.Server{
			Handler:           f.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		f.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "metrics", f.config.Metrics.Enabled)
		go func() {
			if err := f.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if f.config.Dispatch.Enabled {
		go func() {
			if err := f.dispatcher.Run(ctx); err != nil {
				errCh <- fmt.Errorf("dispatcher: %w", err)
			}
		}()
	} else {
		f.logger.Info("dispatch disabled")
	}

	var serverErr error
	select {
	case <-ctx.Done():
		f.logger.Info("context cancelled, shutting down")
	case serverErr = <-errCh:
		f.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := f.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, drains the event log, and closes the
// store.
func (f *Fleet) Shutdown(ctx context.Context) error {
	f.logger.Info("shutting down fleet")

	var errs []error
	if f.httpServer != nil {
		if err := f.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
	}
	f.eventLog.Close()
	f.dedupe.Close()
	if err := f.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}
