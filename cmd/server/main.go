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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Vision/internal/adapters/http"
	"github.com/dkeye/Vision/internal/adapters/store"
	"github.com/dkeye/Vision/internal/app"
	"github.com/dkeye/Vision/internal/app/orch"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	members, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open membership store")
	}
	defer closeStore()

	action, err := app.ParseBackpressure(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("bad backpressure policy")
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(members, app.SimplePolicy{Action: action}),
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Vision signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (core.MembershipStore, func(), error) {
	switch cfg.Store {
	case "", "memory":
		return core.NewMemoryStore(), func() {}, nil
	case "redis":
		s, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("module", "store").Msg("using redis membership store")
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Str("module", "store").Msg("close redis")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
