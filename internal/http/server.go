package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/cvpay/internal/config"
	"github.com/jmehdipour/cvpay/internal/http/middleware"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP server routes to. Reports and Redis are
// optional.
type Deps struct {
	Runner  RetryRunner
	Queue   repository.RetryQueue
	Reports repository.CHPaymentEventsRepository
	Redis   *redis.Client
	Log     *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			d.Log.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	retryAuthMW := middleware.BearerSecretMiddleware(cfg.HTTP.RetrySecret)
	// admin can enqueue arbitrary payloads, so it never falls back to open
	adminAuthMW := middleware.RequiredBearerMiddleware(cfg.HTTP.AdminSecret)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// retry trigger (cron / scheduler)
	e.OPTIONS("/process-webhook-retries", preflightHandler, corsHeaders)
	e.POST("/process-webhook-retries", processRetriesHandler(d.Runner, d.Log), corsHeaders, retryAuthMW)

	// routes
	v1 := e.Group("/v1", adminAuthMW, rlMW)
	v1.POST("/retries", enqueueRetryHandler(d.Queue, cfg.Retry.MaxAttempts, d.Log))
	v1.GET("/retries/failed", listFailedHandler(d.Queue, d.Log))
	v1.POST("/retries/:id/requeue", requeueHandler(d.Queue, d.Log))
	if d.Reports != nil {
		v1.GET("/reports/payment-events", listPaymentEventsHandler(d.Reports, d.Log))
	}

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
