package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/chatstore"
	router "github.com/dkeye/peercall/internal/adapters/http"
	sig "github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/ice"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	resolver, err := ice.NewResolver(cfg.ICE.Servers, ice.Options{TTL: cfg.ICE.TTL})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ice configuration")
	}

	var chat core.ChatStore = chatstore.NewMemory(cfg.Redis.HistoryLimit)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, chat history kept in memory")
		} else {
			chat = chatstore.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Redis.HistoryLimit)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("chat history in redis")
		}
		pingCancel()
	}

	policy, err := app.PolicyFor(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid backpressure policy")
	}
	rt := app.NewRouter(app.NewRegistry(), app.NewRoomManager(), policy)
	rt.ICE = resolver
	rt.Chat = chat

	ctl := sig.NewSignalWSController(rt,
		sig.NewRoomRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		sig.Options{
			ReadLimit:     cfg.ReadLimit,
			PingPeriod:    cfg.PingPeriod,
			SendBuffer:    cfg.SendBuffer,
			ChatMaxLength: cfg.Chat.MaxLength,
		})

	r := router.SetupRouter(ctx, cfg, rt, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("peercall signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
