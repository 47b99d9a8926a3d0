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

	"github.com/kokosante/booking-backend/internal/api"
	"github.com/kokosante/booking-backend/internal/booking"
	"github.com/kokosante/booking-backend/internal/config"
	"github.com/kokosante/booking-backend/internal/db"
	"github.com/kokosante/booking-backend/internal/gateway"
	"github.com/kokosante/booking-backend/internal/realtime"
	redisclient "github.com/kokosante/booking-backend/internal/redis"
	"github.com/kokosante/booking-backend/internal/video"
)

const version = "1.2.0"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
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
	issuer := video.NewIssuer(cfg.VideoAppID, cfg.VideoTokenSecret, cfg.VideoTokenTTL)

	hub := realtime.NewHub(rdb, log)
	go hub.Run(rootCtx)

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		VideoIssuer:   issuer,
		Hub:           hub,
		PgPool:        pgPool,
		Redis:         rdb,
		WebhookSecret: cfg.WebhookSecret,
		Env:           cfg.Env,
		Version:       version,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
