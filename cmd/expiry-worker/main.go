package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/provider-availability-booking/internal/appointment"
	"github.com/hackgods/provider-availability-booking/internal/config"
	"github.com/hackgods/provider-availability-booking/internal/db"
	"github.com/hackgods/provider-availability-booking/internal/logging"
	redisclient "github.com/hackgods/provider-availability-booking/internal/redis"
)

func main() {
	cmd := &cobra.Command{
		Use:          "expiry-worker",
		Short:        "Cancel pending appointments that were never confirmed",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			once, _ := cmd.Flags().GetBool("once")
			return run(cmd.Context(), cfg, once)
		},
	}
	cmd.Flags().String("worker-interval", "", "time between expiry runs")
	cmd.Flags().String("pending-ttl", "", "how long a booking may stay pending")
	cmd.Flags().Bool("once", false, "run a single pass and exit")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, once bool) error {
	logger := logging.New("expiry-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("pending_ttl", cfg.PendingTTL).
		Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns,
		db.WithApplicationName("expiry-worker"))
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to postgres")

	var locker appointment.Locker = appointment.NewLocalLocker()
	if cfg.LockBackend == config.LockBackendRedis {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		logger.Info().Msg("connected to redis")
		locker = redisclient.NewKeyLocker(rdb, cfg.LockTTL, logger)
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), locker, cfg, logger)

	runOnce(rootCtx, svc, logger)
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return nil
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpirePendingAppointments(runCtx)
	if err != nil {
		logger.Error().Err(err).Int("expired", n).Msg("expiry run failed")
		return
	}
	logger.Info().Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
}
