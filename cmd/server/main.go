package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lmikhailov/coderoom/internal/config"
	"github.com/lmikhailov/coderoom/internal/executor"
	"github.com/lmikhailov/coderoom/internal/server"
	"github.com/lmikhailov/coderoom/internal/storage"
	"github.com/lmikhailov/coderoom/internal/storage/memory"
	"github.com/lmikhailov/coderoom/internal/storage/redisstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("no signing secret configured (set secret in config or JWT_SECRET)")
	}

	var store storage.RoomStore
	switch cfg.Store {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.RoomTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect room store")
		}
		defer rs.Close()
		store = rs
	default:
		store = memory.NewMemStore()
	}

	runner := executor.NewHTTPRunner(cfg.ExecutorURL, cfg.ExecutorTimeout)
	srvc := server.New(cfg, store, runner, &log.Logger)

	r := srvc.SetupRouter(ctx)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store).Msg("coderoom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
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
