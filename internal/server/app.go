// Package server wires the dashboard collaboration server together: storage,
// cache, fanout, the websocket collaboration endpoint, the gRPC mutation API
// and the background sweeper.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/cache"
	"github.com/cseek11/VeroSuite-sub002/internal/server/config"
	"github.com/cseek11/VeroSuite-sub002/internal/server/fanout"
	"github.com/cseek11/VeroSuite-sub002/internal/server/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/metrics"
	"github.com/cseek11/VeroSuite-sub002/internal/server/presence"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/repomanager"
	"github.com/cseek11/VeroSuite-sub002/internal/server/services"
	"github.com/cseek11/VeroSuite-sub002/internal/server/ws"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/cseek11/VeroSuite-sub002/internal/server/grpc"
)

// fanoutRetryDelay is how long the relay waits before resubscribing after
// the broker drops.
var fanoutRetryDelay = 5 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       redis.UniversalClient
	registry    *prometheus.Registry
	repomanager repomanager.RepositoryManager
	regions     *services.RegionService
	guard       *idempotency.Guard
	coord       *presence.Coordinator
	fanout      *fanout.Fanout
	hub         *ws.Hub
	grpc        *gs.GRPCServer
}

// NewApp connects the backing stores named by c and builds every component.
// With c.InMemory set no database is opened; with an empty c.RedisAddr the
// cache and fanout stay in-process.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger}

	if c.InMemory {
		app.repomanager = repomanager.NewInMemoryRepositoryManager()
	} else {
		db, err := repomanager.Open(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		app.db = db
		um, err := repomanager.NewPostgresRepositoryManager(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db init error: %w", err)
		}
		if err := um.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations error: %w", err)
		}
		app.repomanager = um
	}

	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			logger.Warn(ctx, "redis unreachable, continuing with local fallbacks", "addr", c.RedisAddr, "error", err)
		}
	}

	if err := app.build(); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) build() error {
	c := app.config

	instanceID := c.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(app.registry, instanceID, app.logger)
	if err != nil {
		return fmt.Errorf("metrics init error: %w", err)
	}

	var (
		shared cache.Tier
		broker fanout.Broker
	)
	if app.redis != nil {
		shared = cache.NewRedisTier(app.redis)
		broker = fanout.NewRedisBroker(app.redis)
	} else {
		broker = fanout.NewMemoryBroker()
	}
	regionCache := cache.New(shared, nil, cache.Options{TTL: c.CacheTTL, StaleRatio: c.CacheStaleRatio}, app.logger)

	um := app.repomanager
	app.regions = services.NewRegionService(um, services.RegionServiceOptions{
		Cache:    regionCache,
		Metrics:  rec,
		Logger:   app.logger,
		CacheTTL: c.CacheTTL,
	})
	app.guard = idempotency.NewGuard(um.Idempotency(um.Conn()), idempotency.Options{TTL: c.IdempotencyTTL}, app.logger)
	app.coord = presence.NewCoordinator(um.Presence(um.Conn()), presence.Options{TTL: c.PresenceTTL}, app.logger)
	app.fanout = fanout.New(broker, instanceID, app.logger)
	app.hub = ws.NewHub(c.MaxConnectionsPerTenant, rec)
	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, app.logger, app.regions, app.guard, c.SecretKey)
	return nil
}

// Handler serves the websocket endpoint, Prometheus metrics and a liveness
// check.
func (app *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(app.hub, app.coord, app.fanout, app.regions, []byte(app.config.SecretKey), app.logger))
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Close releases the database pool and the Redis client.
func (app *App) Close() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) runHTTPServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runFanout keeps the broker relay alive. A broker outage leaves this
// instance serving its own clients until the subscription comes back.
func (app *App) runFanout(ctx context.Context) error {
	for {
		err := app.fanout.Run(ctx, app.hub)
		if ctx.Err() != nil {
			return nil
		}
		app.logger.Warn(ctx, "fanout relay stopped, retrying", "error", err, "delay", fanoutRetryDelay)

		t := time.NewTimer(fanoutRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// sweep deletes stale presence rows and expired idempotency records.
func (app *App) sweep(ctx context.Context) {
	if n, err := app.coord.Sweep(ctx); err != nil {
		app.logger.Warn(ctx, "presence sweep failed", "error", err)
	} else if n > 0 {
		app.logger.Debug(ctx, "presence swept", "removed", n)
	}
	if n, err := app.guard.Purge(ctx); err != nil {
		app.logger.Warn(ctx, "idempotency purge failed", "error", err)
	} else if n > 0 {
		app.logger.Debug(ctx, "idempotency records purged", "removed", n)
	}
}

func (app *App) runSweeper(ctx context.Context) error {
	interval := app.config.PresenceSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			app.sweep(ctx)
		}
	}
}

// Run serves until ctx is cancelled, a termination signal arrives or one of
// the listeners fails.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "instance", app.fanout.InstanceID())

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.runHTTPServer(ctx) })
	g.Go(func() error { return app.runFanout(ctx) })
	g.Go(func() error { return app.runSweeper(ctx) })

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
