package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/calmora/clinic-booking/internal/api/router"
	"github.com/calmora/clinic-booking/internal/booking"
	"github.com/calmora/clinic-booking/internal/catalog"
	"github.com/calmora/clinic-booking/internal/clinicclock"
	appconfig "github.com/calmora/clinic-booking/internal/config"
	"github.com/calmora/clinic-booking/internal/http/handlers"
	"github.com/calmora/clinic-booking/internal/notify"
	"github.com/calmora/clinic-booking/internal/observability/metrics"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/internal/profiles"
	"github.com/calmora/clinic-booking/internal/reservation"
	"github.com/calmora/clinic-booking/internal/shop"
	"github.com/calmora/clinic-booking/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	clock, err := clinicclock.New(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres unreachable", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	paymentMetrics := metrics.NewPaymentMetrics(registry)
	cacheMetrics := metrics.NewCacheMetrics(registry)

	// Catalog
	catalogRepo := catalog.NewRepository(pool)
	slotCache := catalog.NewSlotCache(redisClient, cfg.SlotCacheTTL, cfg.SlotCacheSize, logger).
		WithMetrics(cacheMetrics)
	catalogSvc := catalog.NewService(catalogRepo, slotCache, clock, logger).
		WithHorizon(cfg.BookingHorizon)

	// Reservation Authority and booking orchestration
	authority := reservation.NewStore(pool, clock, cfg.CancelWindow, logger)
	profileRepo := profiles.NewRepository(pool, logger)
	guard := booking.NewAttemptGuard(redisClient, cfg.InFlightGuard, logger)
	paymentRepo := payments.NewRepository(pool)

	// Notifications (best effort; a nil sender disables them)
	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	}
	notifier := notify.NewService(emailSender, profileRepo, authority, logger)

	orchestrator := booking.NewOrchestrator(authority, profileRepo, clock, logger).
		WithGuard(guard).
		WithIntents(paymentRepo).
		WithNotifier(notifier).
		WithMetrics(bookingMetrics)
	lifecycle := booking.NewLifecycle(authority, authority, clock, cfg.CancelWindow, logger).
		WithNotifier(notifier)

	// Payments
	confirmations := payments.NewSheetConfirmations(redisClient, cfg.SheetConfirmTTL, logger)
	paymentSvc := payments.NewService(catalogSvc, nil, nil, paymentRepo, confirmations, cfg.CheckoutGatewaySecret, logger).
		WithMetrics(paymentMetrics)
	if cfg.CheckoutGatewayBaseURL != "" {
		checkoutGW := payments.NewWebCheckoutGateway(cfg.CheckoutGatewayBaseURL, cfg.CheckoutGatewayKeyID, cfg.CheckoutGatewaySecret, logger).
			WithReturnURLs(cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		paymentSvc = paymentSvc.WithCheckout(checkoutGW)
	}
	if cfg.SheetGatewayBaseURL != "" {
		paymentSvc = paymentSvc.WithSheet(payments.NewNativeSheetGateway(cfg.SheetGatewayBaseURL, cfg.SheetGatewayKeyID, cfg.SheetGatewaySecret, logger))
	}
	webhookHandler := payments.NewWebhookHandler(cfg.CheckoutGatewaySecret, paymentRepo, paymentRepo, confirmations, logger).
		WithMetrics(paymentMetrics)

	// Shop
	shopRepo := shop.NewRepository(pool, logger)
	shopSvc := shop.NewService(shopRepo, cfg.ShopTaxBasisPoints, cfg.ShopShippingCents, logger)
	reconciler := shop.NewReconciler(shopRepo, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		SlotsHandler:       handlers.NewSlotsHandler(catalogSvc, logger).WithNextLimit(cfg.NextSlotsLimit),
		BookingsHandler:    handlers.NewBookingsHandler(orchestrator, lifecycle, logger),
		PaymentsHandler:    handlers.NewPaymentsHandler(paymentSvc, logger),
		OrdersHandler:      handlers.NewOrdersHandler(shopSvc, reconciler, logger),
		GatewayWebhook:     webhookHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		UserAuthSecret:     cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
