package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-booking/internal/booking"
	"github.com/clinicore/clinic-booking/internal/config"
	"github.com/clinicore/clinic-booking/internal/db"
	"github.com/clinicore/clinic-booking/internal/metrics"
	"github.com/clinicore/clinic-booking/internal/redisx"
)

const jobName = "lifecycle-sweep"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("service", "sweeper").
		Logger()
	log.Info().Msg("sweeper starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweeper configured")

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

	repo := booking.NewPgRepository(pgPool)
	sweeper := booking.NewSweeper(repo, log)
	locker := redisx.NewRedisJobLocker(rdb, cfg.LockTTL)
	m := metrics.New("clinic-booking-sweeper")

	// Run once at startup
	runOnce(rootCtx, sweeper, locker, m, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, sweeper, locker, m, log)
		}
	}
}

// runOnce executes both sweep jobs under the single-flight lock. Losing
// the lock just means another instance is already sweeping; both jobs
// are idempotent, so even an accidental overlap stays harmless.
func runOnce(ctx context.Context, sweeper *booking.Sweeper, locker redisx.Locker, m *metrics.Metrics, log zerolog.Logger) {
	err := locker.WithJobLock(ctx, jobName, func(lockCtx context.Context) error {
		start := time.Now()

		noShows, err := sweeper.SweepNoShows(lockCtx, time.Now())
		if err != nil {
			m.SweepRunsTotal.WithLabelValues("no_show", "error").Inc()
			return err
		}
		m.SweepRunsTotal.WithLabelValues("no_show", "ok").Inc()
		m.SweepAffectedTotal.WithLabelValues("no_show").Add(float64(noShows))

		flagged, err := sweeper.SweepBlacklist(lockCtx)
		if err != nil {
			m.SweepRunsTotal.WithLabelValues("blacklist", "error").Inc()
			return err
		}
		m.SweepRunsTotal.WithLabelValues("blacklist", "ok").Inc()
		m.SweepAffectedTotal.WithLabelValues("blacklist").Add(float64(flagged))

		log.Info().
			Int("no_shows", noShows).
			Int("blacklisted", flagged).
			Dur("took", time.Since(start)).
			Msg("sweep run complete")
		return nil
	})
	if err != nil {
		if errors.Is(err, redisx.ErrLockNotAcquired) {
			log.Debug().Msg("sweep skipped: another run holds the lock")
			return
		}
		log.Error().Err(err).Msg("sweep run error")
	}
}
