package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kokosante/booking-backend/internal/booking"
	"github.com/kokosante/booking-backend/internal/realtime"
	"github.com/kokosante/booking-backend/internal/video"
)

type RouterConfig struct {
	Service       *booking.Service
	VideoIssuer   *video.Issuer
	Hub           *realtime.Hub
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	WebhookSecret string
	Env           string
	Version       string
	Log           zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointments and queue positions
	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/queue", appointmentQueueHandler(cfg.Service))
	r.Get("/doctors/{id}/queue", doctorQueueHandler(cfg.Service))

	// Payments
	r.Post("/payments/initialize", initPaymentHandler(cfg.Service))
	r.With(WebhookSignatureMiddleware(cfg.WebhookSecret, cfg.Log)).
		Post("/webhooks/payment", paymentWebhookHandler(cfg.Service))

	// Teleconsultations
	r.Post("/teleconsultations/initialize", initTeleconsultHandler(cfg.Service))
	r.Post("/teleconsultations/verify-code", verifyCodeHandler(cfg.Service))
	r.Post("/teleconsultations/token", videoTokenHandler(cfg.VideoIssuer))

	// Notifications
	r.Get("/notifications", listNotificationsHandler(cfg.Service))
	r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Service))
	r.Post("/notifications/read-all", markAllNotificationsReadHandler(cfg.Service))

	// Realtime change feed
	if cfg.Hub != nil {
		r.Get("/realtime", cfg.Hub.ServeWS)
	}

	return r
}
