package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/ai"
	"github.com/IqraKhanZ/ChatNest/internal/config"
	"github.com/IqraKhanZ/ChatNest/internal/db"
	clog "github.com/IqraKhanZ/ChatNest/internal/log"
	"github.com/IqraKhanZ/ChatNest/internal/server"
	"github.com/IqraKhanZ/ChatNest/internal/service"
	"github.com/IqraKhanZ/ChatNest/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	var pub service.Publisher = hub
	var relayErr chan error
	if cfg.RedisURL != "" {
		relay, err := ws.NewRedisRelay(ctx, cfg.RedisURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer relay.Close()
		relayErr = make(chan error, 1)
		go func() { relayErr <- superviseRelay(ctx, relay.Run, stop) }()
		pub = relay
		log.Info().Msg("room events relayed through redis")
	}

	var completer server.Completer
	if cfg.AI.APIKey != "" {
		completer = ai.NewClient(cfg.AI, nil)
	} else {
		log.Warn().Msg("OPENROUTER_API_KEY not set, ai replies disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, pub, completer),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting chatnest server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
	select {
	case err := <-relayErr:
		if err != nil {
			log.Fatal().Err(err).Msg("exiting after redis relay failure")
		}
	default:
	}
}

// superviseRelay 运行 relay。ctx 未结束而 relay 退出时调用 stop 关闭整个服务，
// 由进程管理器重启，而不是让其他实例的事件静默丢失。
func superviseRelay(ctx context.Context, run func(context.Context) error, stop func()) error {
	err := run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = ws.ErrRelayClosed
	}
	log.Error().Err(err).Msg("redis relay stopped, shutting down")
	stop()
	return err
}
