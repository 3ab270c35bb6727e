package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"

	"tradesim/internal/core"
	"tradesim/internal/obs"
)

// Config wires the HTTP surface.
type Config struct {
	Engine    *core.Engine
	Push      http.Handler
	RateLimit float64
	RateBurst int
}

// NewRouter builds the gin engine with the command API, /metrics and /ws.
func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.Engine == nil {
		return nil, errors.New("nil engine")
	}

	reg := prometheus.NewRegistry()
	if err := obs.Register(reg, cfg.Engine.Metrics(), cfg.Engine.Portfolio); err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tick": cfg.Engine.Tick()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	if cfg.Push != nil {
		r.GET("/ws", func(c *gin.Context) {
			cfg.Push.ServeHTTP(c.Writer, c.Request)
		})
	}

	h := NewHandler(cfg.Engine)
	v1 := r.Group("/api/v1")
	if cfg.RateLimit > 0 {
		v1.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))))
	}
	{
		v1.GET("/snapshot", h.Snapshot)
		v1.GET("/notifications", h.Notifications)

		v1.GET("/orders", h.ListOrders)
		v1.POST("/orders", h.SubmitOrder)
		v1.DELETE("/orders/:id", h.CancelOrder)

		v1.GET("/positions", h.ListPositions)
		v1.POST("/positions/:id/close", h.ClosePosition)
		v1.PUT("/positions/:id/limits", h.SetPositionLimits)

		v1.GET("/bots", h.ListBots)
		v1.POST("/bots", h.CreateBot)
		v1.POST("/bots/:id/toggle", h.ToggleBot)
		v1.DELETE("/bots/:id", h.DeleteBot)

		v1.PUT("/speed", h.SetSpeed)
		v1.POST("/play", h.Play)
		v1.POST("/pause", h.Pause)
		v1.PUT("/condition", h.SetCondition)

		v1.POST("/alerts", h.AddAlert)
		v1.DELETE("/alerts/:id", h.RemoveAlert)
	}
	return r, nil
}

// RateLimit rejects requests once the shared limiter is exhausted.
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
