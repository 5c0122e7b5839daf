package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/middlewares"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/webhooks"
	"github.com/mmdatafocus/restaurant_backend/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// engine is set once DB and Redis are connected; handlers answer 503 until then.
var engine atomic.Pointer[workflow.PaymentDispatcher]

func notificationHandler() webhooks.NotificationHandler {
	if d := engine.Load(); d != nil {
		return d
	}
	return nil
}

func paymentSettler() webhooks.PaymentSettler {
	if d := engine.Load(); d != nil {
		return d
	}
	return nil
}

func ready() bool {
	return config.GetDB() != nil && config.GetRedisDB() != nil && engine.Load() != nil
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	metrics := workflow.NewMetrics(prometheus.DefaultRegisterer)

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Use(middlewares.ReadinessMiddleware(ready))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", webhooks.SignatureHeader, webhooks.RequestIdHeader, middlewares.OpsTokenHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)

	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	webhookRoutes := r.Group("/webhooks")
	if config.EnvBoolDefault("RATE_LIMIT_ENABLED", false) {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := &lazyRateLimiter{prefix: "ratelimit:webhooks:", limit: limit, window: time.Duration(windowSec) * time.Second}
		webhookRoutes.Use(rateLimiter.Middleware)
	}
	webhookRoutes.POST("/payments", webhooks.PaymentWebhookHandler(notificationHandler))

	// Ops tooling: OPS_TOKEN must be set for these routes to answer.
	ops := r.Group("/internal/ops", middlewares.OpsTokenMiddleware(os.Getenv("OPS_TOKEN")))
	ops.POST("/outbox/replay", webhooks.OutboxReplayHandler(config.GetDB))
	ops.GET("/outbox/:id", webhooks.OutboxStatusHandler(config.GetDB))
	ops.POST("/payments/:id/settle", webhooks.SettlePaymentHandler(paymentSettler))
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	settings := config.LoadSettlementSettings()
	store := models.NewStore(db)
	engine.Store(workflow.NewPaymentDispatcher(workflow.EngineDeps{
		Store:       store,
		Idempotency: &workflow.GormIdempotencyStore{DB: db},
		Locker:      workflow.NewRedisTenantLocker(config.GetRedisLock(), "ledger", settings.LedgerLockTTL, logger),
		Metrics:     metrics,
		Logger:      logger,
	}, settings))

	if config.EnvBoolDefault("PUBSUB_ENSURE_TOPIC", false) {
		topicCtx, cancelTopic := context.WithTimeout(context.Background(), 30*time.Second)
		if err := config.EnsureSettlementTopic(topicCtx); err != nil {
			config.LogError(logger, "main", "main", "ensure settlement topic", config.SettlementTopic(), err)
		}
		cancelTopic()
	}

	// Publishes settlement events after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening for payment notifications on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// lazyRateLimiter binds to the shared Redis client once it is connected.
type lazyRateLimiter struct {
	prefix string
	limit  int64
	window time.Duration
}

func (l *lazyRateLimiter) Middleware(c *gin.Context) {
	rdb := config.GetRedisDB()
	if rdb == nil {
		c.Next()
		return
	}
	middlewares.NewRateLimiter(rdb, l.prefix, l.limit, l.window).RateLimitMiddleware(c)
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
