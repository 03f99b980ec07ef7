package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/arbitrage-api/internal/auth"
	"github.com/ksred/arbitrage-api/internal/catalog"
	"github.com/ksred/arbitrage-api/internal/config"
	"github.com/ksred/arbitrage-api/internal/database"
	"github.com/ksred/arbitrage-api/internal/ledger"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/quotes"
	"github.com/ksred/arbitrage-api/internal/worker"
	"github.com/ksred/arbitrage-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the arbitrage coordination server with graceful
// shutdown support. It wires the order catalog, execution queue, pairing
// ledger and quote store onto one API surface.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	middleware.Configure(cfg.Auth.JWTSecret)

	catalogService := catalog.NewService(db)
	catalogHandlers := catalog.NewGinHandlers(catalogService)

	queueService := queue.NewService(db,
		queue.WithLease(cfg.Lease()),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
	)
	defer queueService.Close()
	queueHandlers := queue.NewGinHandlers(queueService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	quotesService := quotes.NewService(db)
	quotesHandlers := quotes.NewGinHandlers(quotesService)

	// Create and start the queue monitor
	monitor := queue.NewMonitor(queueService, cfg.MonitorInterval())
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()

	go monitor.Start(monitorCtx)

	// Embedded execution workers, optional; external workers use the HTTP
	// worker interface instead.
	for i := 0; i < cfg.Workers; i++ {
		w := worker.New(fmt.Sprintf("embedded-%d", i), queueService, catalogService, nil)
		go w.Start(monitorCtx)
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, catalogHandlers, queueHandlers, ledgerHandlers, quotesHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order and quote read routes: Protected by JWT authentication, read-only
// - Internal routes: producer/worker/ingest operations protected by internal
//   network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	catalogHandlers *catalog.GinHandlers,
	queueHandlers *queue.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	quotesHandlers *quotes.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Reconciliation routes (dashboards): strictly read-only
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.GET("", catalogHandlers.ListOrdersHandler())
			orders.GET("/:order_id", catalogHandlers.GetOrderHandler())
			orders.GET("/:order_id/pairs", ledgerHandlers.GetPairsByOrderHandler())
		}

		quotesGroup := v1.Group("/quotes")
		quotesGroup.Use(middleware.JWTAuth())
		{
			quotesGroup.GET("/latest", quotesHandlers.LatestHandler())
			quotesGroup.GET("/range", quotesHandlers.RangeHandler())
			quotesGroup.GET("/spread", quotesHandlers.SpreadHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			// Producer interface: decision logic records intents and queues them
			internal.POST("/orders", catalogHandlers.CreateOrderHandler())
			internal.POST("/orders/:order_id/status", catalogHandlers.UpdateStatusHandler())
			internal.POST("/orders/:order_id/exchange-order-id", catalogHandlers.AssignExchangeOrderIDHandler())
			internal.POST("/queue/tasks", queueHandlers.EnqueueHandler())

			// Worker interface: execution workers drain the queue
			internal.POST("/queue/take", queueHandlers.TakeHandler())
			internal.POST("/queue/tasks/:task_id/ack", queueHandlers.AckHandler())
			internal.POST("/queue/tasks/:task_id/release", queueHandlers.ReleaseHandler())
			internal.POST("/queue/tasks/:task_id/kick", queueHandlers.KickHandler())
			internal.GET("/queue/stats", queueHandlers.StatsHandler())

			// Pairing and market data ingest
			internal.POST("/pairs", ledgerHandlers.RecordPairHandler())
			internal.GET("/pairs/:pair_id", ledgerHandlers.GetPairHandler())
			internal.POST("/quotes", quotesHandlers.RecordHandler())
		}
	}
}
