// Package httpapi exposes the chat orchestrator, the conversation store and
// the provider settings over JSON HTTP.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatmux/internal/chat"
	"chatmux/internal/conversations"
	"chatmux/internal/dispatch"
	"chatmux/internal/metrics"
	"chatmux/internal/ratelimit"
	"chatmux/internal/settings"
)

const (
	requestIDHeader   = "X-Request-ID"
	idempotencyHeader = "Idempotency-Key"
)

type Config struct {
	Chat       *chat.Orchestrator
	Store      *conversations.Store
	Dispatcher *dispatch.Dispatcher
	Settings   *settings.Store
	// Limiter and Dedupe are optional; without them POST /api/chat is
	// neither limited nor checked for repeated Idempotency-Key headers.
	Limiter *ratelimit.Limiter
	Dedupe  *ratelimit.Deduplicator

	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	HealthPath     string
	MetricsPath    string
	Clock          func() time.Time
}

type Server struct {
	chat       *chat.Orchestrator
	store      *conversations.Store
	dispatcher *dispatch.Dispatcher
	settings   *settings.Store
	limiter    *ratelimit.Limiter
	dedupe     *ratelimit.Deduplicator
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	engine *gin.Engine
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		chat:       cfg.Chat,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		settings:   cfg.Settings,
		limiter:    cfg.Limiter,
		dedupe:     cfg.Dedupe,
		logger:     cfg.Logger.With().Str("component", "http").Logger(),
		metrics:    cfg.Metrics,
		now:        cfg.Clock,
		engine:     gin.New(),
	}

	r := s.engine
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET(cfg.HealthPath, func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET(cfg.MetricsPath, gin.WrapH(cfg.MetricsHandler))

	api := r.Group("/api")
	api.POST("/chat", s.rateLimit(), s.idempotency(), s.handleChat)

	api.POST("/conversations", s.handleNewConversation)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.POST("/conversations/:id/open", s.handleOpenConversation)
	api.PUT("/conversations/:id/title", s.handleRenameConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)
	api.GET("/conversations/:id/export", s.handleExportConversation)

	api.GET("/providers", s.handleListProviders)
	api.GET("/providers/:id/models", s.handleProviderModels)

	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		ev := s.logger.Info()
		if status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(started)).
			Msg("http request")
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		d, err := s.limiter.Allow(c.Request.Context(), c.ClientIP(), s.now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("rate limiter unavailable, letting request through")
			c.Next()
			return
		}
		if !d.Allowed {
			s.metrics.RateLimited.Inc()
			retry := int(d.ResetAt.Sub(s.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"limit":   d.Limit,
				"resetAt": d.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}
		c.Next()
	}
}

func (s *Server) idempotency() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if s.dedupe == nil || key == "" {
			c.Next()
			return
		}
		first, err := s.dedupe.MarkFirst(c.Request.Context(), key)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dedupe unavailable, letting request through")
			c.Next()
			return
		}
		if !first {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
	}
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
