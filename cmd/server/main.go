package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/auth"
	"github.com/syncstack/docsync-api/internal/config"
	"github.com/syncstack/docsync-api/internal/db"
	"github.com/syncstack/docsync-api/internal/httpapi"
	"github.com/syncstack/docsync-api/internal/scheduler"
	"github.com/syncstack/docsync-api/internal/service/syncservice"
	"github.com/syncstack/docsync-api/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = log.With().Str("service", "docsync-api").Logger()

	// Pretty logging for local dev
	if cfg.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Store selection: Postgres for production, in-memory for local dev
	var (
		docs      store.DocumentStore
		queue     store.QueueStore
		conflicts store.ConflictStore
		states    store.StateStore
		users     auth.UserResolver
	)

	switch cfg.Database.Store {
	case "memory":
		mem := store.NewMemory()
		docs, queue, conflicts, states, users = mem, mem, mem, mem, mem
		log.Warn().Msg("running on in-memory stores; data is lost on restart")
	default:
		if cfg.Database.URL == "" {
			log.Fatal().Msg("database.url is required (or set database.store to memory)")
		}
		pool, err := db.Open(ctx, db.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		docs, queue, conflicts, states, users = pg, pg, pg, pg, pg
	}

	engine := syncservice.NewEngine(docs, queue, conflicts, states, syncservice.Limits{
		QueueCapacity:   cfg.Sync.QueueCapacity,
		BatchSize:       cfg.Sync.BatchSize,
		MaxRetries:      cfg.Sync.MaxRetries,
		EnqueueBatchMax: cfg.Sync.EnqueueBatchMax,
	})

	// HTTP server setup
	srv := &httpapi.Server{
		Engine: engine,
		Users:  users,
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: cfg.RateLimit.WindowSeconds,
			MaxRequests:   cfg.RateLimit.MaxRequests,
			Burst:         cfg.RateLimit.Burst,
		},
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.Auth.HS256Secret,
		DevMode:     cfg.Auth.DevMode,
	}
	if jwtCfg.DevMode {
		log.Warn().Msg("auth dev mode enabled; X-Debug-Sub header is accepted")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
		IdleTimeout:  cfg.Server.GetIdleTimeout(),
	}

	// Background sweep so queues drain without a client calling process
	sweep := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Interval: cfg.Scheduler.Interval,
		MaxUsers: cfg.Scheduler.MaxUsers,
	}, engine, queue, states)
	sweep.Start()

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
