package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/middlewares"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/mmdatafocus/listings_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("listings-backend")

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			fields := logrus.Fields{
				"field":  "http",
				"method": c.Request.Method,
				"path":   c.FullPath(),
				"status": c.Writer.Status(),
			}
			if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
				fields["correlation_id"] = cid
			}
			logger.WithFields(fields).Error(c.Errors.String())
		}
	}
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			// No browser origins configured: refuse every cross-origin request.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return cors.New(corsConfig)
}

// newRouter registers every route. rateLimiter may be nil.
func newRouter(a *api, rateLimiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(a.readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(corsMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware(func() *gorm.DB { return a.DB }))
	r.Use(customErrorLogger(a.Logger))
	r.Use(gin.Recovery())

	r.GET("/listings", a.searchListingsHandler())
	r.GET("/listings/:id/similar", a.similarListingsHandler())

	subscriptions := r.Group("/subscriptions")
	if rateLimiter != nil {
		subscriptions.Use(rateLimiter.RateLimitMiddleware)
	}
	subscriptions.POST("", a.subscribeHandler())
	subscriptions.POST("/unsubscribe", a.unsubscribeHandler())

	admin := r.Group("/admin", middlewares.RequireAdmin())
	admin.POST("/listings", a.publishListingHandler())
	admin.POST("/listings/:id/dispatch", a.redispatchHandler())
	admin.GET("/ledger/:listingId/export", a.exportLedgerHandler())

	r.POST("/pubsub/listing-published", a.listingPublishedPushHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

// wire builds the stores and workflows on top of the connected database and redis.
func (a *api) wire(logger *logrus.Logger) {
	db := config.GetDB()
	rdb := config.GetRedisDB()

	listings := models.NewListingStore(db)
	ledger := models.NewLedgerStore(db)
	similar := &workflow.SimilarListings{
		Listings: listings,
		Redis:    rdb,
		Locker:   config.GetRedisLock(),
		TTL:      config.SimilarCacheTTL(),
		Logger:   logger,
	}
	dispatcher := workflow.NewNotificationDispatcher(
		models.NewSubscriptionStore(db),
		workflow.NewCachedLedger(ledger, rdb),
		notifier.ChannelFromEnv(logger),
		logger,
	)

	a.DB = db
	a.Listings = listings
	a.Subscriptions = models.NewSubscriptionStore(db)
	a.Ledger = ledger
	a.Similar = similar
	a.Dispatcher = dispatcher
	a.Publisher = &workflow.ListingPublisher{
		Listings:     listings,
		Districts:    models.NewDistrictStore(db),
		Dispatcher:   dispatcher,
		Similar:      similar,
		Async:        config.AsyncDispatch(),
		PublishEvent: notifier.PublishListingPublished,
		Logger:       logger,
	}
	a.SimilarLimit = config.SimilarListingsLimit()
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a := &api{Logger: logger}
	r := newRouter(a, rateLimiterFromEnv(config.GetRedisDB))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	// Listen before connecting so the platform health check passes while the DB comes up.
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
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			config.LogError(logger, "server.go", "main", "MigrateTable", nil, err)
			os.Exit(1)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if config.AsyncDispatch() {
		ensureTopics(sigCtx, logger)
	}

	a.wire(logger)
	a.ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info":          "Connection Established",
		"notify":        config.NotifyChannel(),
		"asyncDispatch": config.AsyncDispatch(),
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// ensureTopics creates the listing-published topic (and the digest topic when
// it is the notify channel). Failures are logged; publishing falls back inline.
func ensureTopics(ctx context.Context, logger *logrus.Logger) {
	client, err := config.GetClient(ctx)
	if err != nil {
		config.LogError(logger, "server.go", "ensureTopics", "GetClient", nil, err)
		return
	}
	topics := []string{config.ListingTopic()}
	if config.NotifyChannel() == config.NotifyChannelPubSub {
		topics = append(topics, config.OperatorDigestTopic())
	}
	for _, topic := range topics {
		if _, err := config.CreateTopicIfNotExists(ctx, client, topic); err != nil {
			config.LogError(logger, "server.go", "ensureTopics", "CreateTopicIfNotExists", topic, err)
		}
	}
}
