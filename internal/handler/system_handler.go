package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/examily/examily-backend/internal/response"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports service health.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status     string `json:"status"`
	Postgres   string `json:"postgres"`
	Redis      string `json:"redis"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
}

// Health godoc
// GET /health
// Pings PostgreSQL and Redis. Responds 503 if either is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := healthStatus{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := h.pool.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
			status.Postgres = "unreachable"
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			status.Redis = "unreachable"
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		status.Status = "degraded"
		response.Success(c, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(c, http.StatusOK, status)
}
