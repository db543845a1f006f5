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
	"trip-planning-service/internal/api"
	"trip-planning-service/internal/config"
	"trip-planning-service/internal/platform/obs"
	"trip-planning-service/internal/solver"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// main starts the standalone route optimization service.
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("solver stopped")
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

	scfg := solver.DefaultConfig()
	scfg.Seed = cfg.SolverSeed

	srv := &http.Server{
		Addr:              ":" + cfg.SolverPort,
		Handler:           api.NewSolverRouter(solver.NewEngine(scfg)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("solver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
