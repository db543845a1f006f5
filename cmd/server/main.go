package main

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
	"trip-planning-service/internal/adapters/cache"
	"trip-planning-service/internal/adapters/events"
	"trip-planning-service/internal/adapters/geocoding"
	"trip-planning-service/internal/adapters/geolocation"
	"trip-planning-service/internal/adapters/optimizer"
	"trip-planning-service/internal/adapters/routing"
	"trip-planning-service/internal/api"
	"trip-planning-service/internal/config"
	"trip-planning-service/internal/platform/db"
	"trip-planning-service/internal/platform/obs"
	"trip-planning-service/internal/ports"
	"trip-planning-service/internal/services"
	"trip-planning-service/internal/solver"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// main is the application composition root.
// It wires concrete adapters (Nominatim, OSRM, optimizer, caches, broker) behind ports
// and starts the HTTP server.
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	obs.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	searchCache, routeCache, closeCache, err := openCaches(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	geocoder, err := geocoding.NewNominatimGeocoder(geocoding.NominatimConfig{
		BaseURL:    cfg.NominatimURL,
		UserAgent:  cfg.NominatimUserAgent,
		Language:   cfg.NominatimLanguage,
		RatePerSec: cfg.NominatimRatePerSec,
	}, searchCache)
	if err != nil {
		return err
	}

	geometry, err := routing.NewOSRMProvider(cfg.OSRMURL, cfg.OSRMProfile)
	if err != nil {
		return err
	}
	if routeCache != nil {
		geometry.WithCache(routeCache)
	}

	opt, err := newOptimizer(cfg)
	if err != nil {
		return err
	}

	broker, closeBroker, err := newBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	deps := services.Dependencies{
		Geocoder:  geocoder,
		Optimizer: opt,
		Geometry:  geometry,
		Events:    api.NewSnapshotPublisher(broker),
	}
	opts := services.Options{
		SearchDebounce:     cfg.SearchDebounce,
		ServiceTimeout:     cfg.ServiceTimeout,
		GeolocationTimeout: cfg.GeolocationTimeout,
		MinQueryLength:     services.DefaultOptions().MinQueryLength,
		DefaultAlgorithm:   cfg.DefaultAlgorithm,
	}
	// Each session is fed fixes by the device that owns it.
	manager := services.NewManager(deps, opts, cfg.MaxSessions, func(string) ports.Geolocator {
		return geolocation.NewReportedGeolocator(cfg.GeolocationTimeout)
	})
	defer manager.CloseAll()

	// Timeouts are tuned for slow upstream optimization; the stream endpoint manages
	// its own write deadlines, so WriteTimeout stays unset.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(manager, broker),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("cache", cfg.CacheDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openCaches returns nil caches when CACHE_DRIVER is none.
func openCaches(ctx context.Context, cfg config.Config) (ports.SearchCache, ports.RouteCache, func(), error) {
	var conn *sql.DB
	var err error

	switch cfg.CacheDriver {
	case config.CacheSQLite:
		conn, err = db.OpenSQLite(ctx, cfg.DBPath)
	case config.CachePostgres:
		conn, err = db.Open(ctx, cfg.DatabaseURL)
	default:
		return nil, nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() { _ = conn.Close() }

	if cfg.CacheDriver == config.CacheSQLite {
		if err := cache.InitSchema(ctx, conn, cache.DriverSQLite); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		return cache.NewSqliteSearchCache(conn, cfg.CacheTTL), cache.NewSqliteRouteCache(conn, cfg.CacheTTL), closeFn, nil
	}

	// Postgres schema is managed with cmd/dbtool.
	return cache.NewSQLSearchCache(conn, cfg.CacheTTL), cache.NewSQLRouteCache(conn, cfg.CacheTTL), closeFn, nil
}

// newOptimizer calls the remote optimization service when OPTIMIZER_URL is set and
// runs the solver in process otherwise.
func newOptimizer(cfg config.Config) (ports.Optimizer, error) {
	if cfg.OptimizerURL != "" {
		return optimizer.NewHTTPOptimizer(cfg.OptimizerURL)
	}
	scfg := solver.DefaultConfig()
	scfg.Seed = cfg.SolverSeed
	return optimizer.NewLocal(solver.NewEngine(scfg)), nil
}

func newBroker(ctx context.Context, cfg config.Config) (ports.EventBroker, func(), error) {
	if cfg.RedisURL == "" {
		return events.NewBroker(), func() {}, nil
	}
	b, err := events.NewRedisBroker(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}
