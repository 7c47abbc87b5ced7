// Package main runs the LearnHub API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/learnhub/backend/config"
	"github.com/learnhub/backend/internal/auth"
	"github.com/learnhub/backend/internal/cart"
	"github.com/learnhub/backend/internal/checkout"
	"github.com/learnhub/backend/internal/coupons"
	"github.com/learnhub/backend/internal/courses"
	"github.com/learnhub/backend/internal/earnings"
	"github.com/learnhub/backend/internal/emaillogs"
	"github.com/learnhub/backend/internal/enrollments"
	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/internal/notifications"
	"github.com/learnhub/backend/internal/payments"
	"github.com/learnhub/backend/pkg/database"
	"github.com/learnhub/backend/pkg/queue"
	"github.com/learnhub/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Payment gateways. Adapters with missing credentials reject at call
	// time, so registering all of them is safe.
	registry := gateway.NewRegistry(
		gateway.NewRazorpay(cfg.Razorpay),
		gateway.NewStripe(cfg.Stripe),
		gateway.NewCashfree(cfg.Cashfree),
		gateway.NewPayU(cfg.PayU),
		gateway.NewPaytm(cfg.Paytm),
	)

	// Repositories
	userRepo := auth.NewRepository(pool)
	courseRepo := courses.NewRepository(pool)
	cartRepo := cart.NewRepository(pool)
	couponRepo := coupons.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool)
	enrollmentRepo := enrollments.NewRepository(pool)
	earningRepo := earnings.NewRepository(pool)
	notificationRepo := notifications.NewRepository(pool)
	emailLogRepo := emaillogs.NewRepository(pool)

	// Services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	notifier := notifications.NewNotifier(notificationRepo, logger)
	sessionStore := payments.NewSessionStore(rdb.Client, time.Duration(cfg.Checkout.SessionTTLMinutes)*time.Minute)
	evaluator := coupons.NewEvaluator(couponRepo)

	callbackBase := cfg.Server.BaseURL + "/payments/callback"
	checkoutService := checkout.NewService(
		courseRepo, enrollmentRepo, evaluator,
		checkout.NewTxPersister(paymentRepo, couponRepo),
		sessionStore, userRepo, registry,
		checkout.Config{
			Currency:       cfg.Checkout.Currency,
			TaxRatePercent: cfg.Checkout.TaxRatePercent,
			CallbackBase:   callbackBase,
		},
		logger,
	)
	pipeline := payments.NewPipeline(paymentRepo, sessionStore, registry, jobQueue, logger)
	manager := payments.NewManager(payments.ManagerParams{
		Repo:             paymentRepo,
		Sessions:         sessionStore,
		Registry:         registry,
		Coupons:          couponRepo,
		Enrollments:      enrollmentRepo,
		Earnings:         earningRepo,
		Courses:          courseRepo,
		Users:            userRepo,
		Notifier:         notifier,
		Emails:           jobQueue,
		Logger:           logger,
		RefundWindowDays: cfg.Checkout.RefundWindowDays,
		CallbackBase:     callbackBase,
	})

	// Handlers
	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	courseHandler := courses.NewHandler(courseRepo, logger)
	cartHandler := cart.NewHandler(cartRepo, courseRepo, logger)
	couponHandler := coupons.NewHandler(couponRepo, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	paymentHandler := payments.NewHandler(paymentRepo, pipeline, manager, logger)
	enrollmentHandler := enrollments.NewHandler(enrollmentRepo, logger)
	earningHandler := earnings.NewHandler(earningRepo, logger)
	notificationHandler := notifications.NewHandler(notificationRepo, logger)
	emailLogHandler := emaillogs.NewHandler(emailLogRepo, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Catalog (public)
	router.GET("/courses", courseHandler.List)
	router.GET("/courses/:id", courseHandler.Get)

	// Provider callbacks (no JWT; gated by the checkout session)
	router.POST("/payments/callback/:gateway", paymentHandler.Callback)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/courses", middleware.RequireRole("instructor", "admin"), courseHandler.Create)

		api.GET("/cart", cartHandler.List)
		api.POST("/cart", cartHandler.Add)
		api.DELETE("/cart/:courseID", cartHandler.Remove)

		api.POST("/checkout", checkoutHandler.Initiate)

		api.POST("/payments/verify", paymentHandler.Verify)
		api.GET("/payments", paymentHandler.List)
		api.GET("/payments/:id", paymentHandler.Get)
		api.POST("/payments/:id/retry", paymentHandler.Retry)
		api.POST("/payments/:id/cancel", paymentHandler.Cancel)
		api.POST("/payments/:id/refund-request", paymentHandler.RequestRefund)

		api.GET("/me/courses", enrollmentHandler.ListMine)
		api.GET("/me/notifications", notificationHandler.ListMine)
		api.PATCH("/me/notifications/:id/read", notificationHandler.MarkRead)
		api.GET("/me/earnings", middleware.RequireRole("instructor", "admin"), earningHandler.ListMine)

		// Admin
		api.POST("/coupons", middleware.RequireRole("admin"), couponHandler.Create)
		api.GET("/coupons", middleware.RequireRole("admin"), couponHandler.List)
		api.POST("/payments/:id/refund-decision", middleware.RequireRole("admin"), paymentHandler.RefundDecision)
		api.GET("/payments/:id/emails", middleware.RequireRole("admin"), emailLogHandler.ListByPayment)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
