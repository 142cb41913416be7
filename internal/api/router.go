package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/hub"
)

type RouterConfig struct {
	Service         CheckinService
	Hub             *hub.Hub
	PgPool          *pgxpool.Pool
	Redis           *redis.Client
	Log             zerolog.Logger
	Env             string
	Version         string
	ListCacheTTL    time.Duration
	RateLimitPerSec int
	RateLimitBurst  int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RateLimitMiddleware(cfg.RateLimitPerSec, cfg.RateLimitBurst))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// List endpoints, cached briefly
	listCache := cache.New(cfg.ListCacheTTL, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(CacheMiddleware(listCache, cfg.ListCacheTTL))
		r.Get("/appointments/scheduled", listScheduledHandler(cfg.Service))
		r.Get("/appointments/checked-in", listCheckedInHandler(cfg.Service))
	})

	// Mutation endpoints
	r.Post("/appointments/state", updateStateHandler(cfg.Service))
	r.Post("/appointments/undo", undoStateHandler(cfg.Service))

	// Realtime channel
	r.Get("/realtime", realtimeHandler(cfg.Hub, cfg.Log))

	return r
}
