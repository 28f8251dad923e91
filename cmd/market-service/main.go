package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agrolink/agrolink-backend/internal/stock/consumers"
	"github.com/agrolink/agrolink-backend/internal/stock/events"
	"github.com/agrolink/agrolink-backend/internal/stock/handler"
	"github.com/agrolink/agrolink-backend/internal/stock/repository"
	"github.com/agrolink/agrolink-backend/internal/stock/service"
	"github.com/agrolink/agrolink-backend/pkg/config"
	"github.com/agrolink/agrolink-backend/pkg/database"
	"github.com/agrolink/agrolink-backend/pkg/httputil"
	"github.com/agrolink/agrolink-backend/pkg/logger"
	"github.com/agrolink/agrolink-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("market-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("market-service", cfg.Server.Environment)
	log.Info().Msg("starting Market Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	ledgerRepo := repository.NewLedgerRepository(db)
	listingRepo := repository.NewListingRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Initialize service
	stockService := service.NewStockService(db, ledgerRepo, listingRepo, publisher, log)

	// Initialize handlers
	ledgerHandler := handler.NewLedgerHandler(stockService, log)
	alertHandler := handler.NewAlertHandler(stockService, log)
	listingHandler := handler.NewListingHandler(stockService, log)
	dashboardHandler := handler.NewDashboardHandler(stockService, log)

	// Start the background stock monitor
	monitor := service.NewStockMonitor(
		ledgerRepo,
		stockService,
		notificationRepo,
		service.NewLogNotifier(log),
		cfg.Monitor,
		log,
	)

	// Start the order event consumer
	orderConsumer, err := consumers.NewOrderEventConsumer(rmq, stockService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create order event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orderConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start order event consumer")
	}

	monitor.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS for the vendor dashboard
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*.agrolink.co.ke"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "market-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/ledgers", func(r chi.Router) {
			r.Get("/", ledgerHandler.List)
			r.Post("/", ledgerHandler.Create)
			r.Get("/{id}", ledgerHandler.Get)
			r.Post("/{id}/sales", ledgerHandler.RecordSale)
			r.Post("/{id}/adjustments", ledgerHandler.RecordAdjustment)
			r.Put("/{id}/settings", ledgerHandler.UpdateSettings)
			r.Post("/{id}/alerts/scan", alertHandler.Scan)
			r.Put("/{id}/alerts/{alertID}/read", alertHandler.MarkRead)
			r.Put("/{id}/alerts/{alertID}/resolve", alertHandler.Resolve)
		})

		r.Post("/alerts/scan", alertHandler.ScanAll)

		r.Route("/listings", func(r chi.Router) {
			r.Get("/{id}/health", listingHandler.Health)
			r.Post("/{id}/sync", listingHandler.Sync)
		})

		r.Get("/dashboard/stats", dashboardHandler.GetStats)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the monitor before closing shared resources
	monitor.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
