package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-booking/internal/api"
	"github.com/clinicore/clinic-booking/internal/booking"
	"github.com/clinicore/clinic-booking/internal/config"
	"github.com/clinicore/clinic-booking/internal/db"
	"github.com/clinicore/clinic-booking/internal/metrics"
	"github.com/clinicore/clinic-booking/internal/notify"
	"github.com/clinicore/clinic-booking/internal/redisx"
)

var version = "dev"

func main() {
	log := newLogger("api-server")
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisx.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	var notifier notify.Notifier
	if cfg.LineChannelToken != "" {
		notifier = notify.NewLineNotifier(cfg.LineAPIBase, cfg.LineChannelToken, log)
		log.Info().Msg("LINE notifications enabled")
	} else {
		notifier = &notify.LogNotifier{Log: log}
		log.Info().Msg("LINE notifications disabled: no channel token")
	}

	repo := booking.NewPgRepository(pgPool)
	svc := booking.NewService(repo, notifier, booking.ServiceConfig{
		BookingWindowDays: cfg.BookingWindowDays,
		ModifyCutoff:      cfg.ModifyCutoff,
	}, log)

	m := metrics.New("clinic-booking")

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Metrics: m,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
		Log:     log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("api-server stopped")
}

func newLogger(service string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
