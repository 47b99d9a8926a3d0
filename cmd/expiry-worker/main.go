package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokosante/booking-backend/internal/booking"
	"github.com/kokosante/booking-backend/internal/config"
	"github.com/kokosante/booking-backend/internal/db"
	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/realtime"
	redisclient "github.com/kokosante/booking-backend/internal/redis"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("payment_ttl", cfg.PaymentTTL).
		Msg("running payment expiry worker")

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

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
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
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	publisher := realtime.NewRedisPublisher(rdb, log)
	gw := gateway.NewClient(gateway.Config{
		URL:        cfg.GatewayURL,
		APIKey:     cfg.GatewayAPIKey,
		ReturnURL:  cfg.ReturnURL,
		WebhookURL: cfg.WebhookURL,
	}, log)
	svc := booking.NewService(repo, locker, gw, publisher, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpirePendingPayments(runCtx); err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("expiry run complete")
}
