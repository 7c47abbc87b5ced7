// Package main runs the background job worker (fulfillment and email dispatch).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/learnhub/backend/config"
	"github.com/learnhub/backend/internal/auth"
	"github.com/learnhub/backend/internal/cart"
	"github.com/learnhub/backend/internal/courses"
	"github.com/learnhub/backend/internal/earnings"
	"github.com/learnhub/backend/internal/emaillogs"
	"github.com/learnhub/backend/internal/enrollments"
	"github.com/learnhub/backend/internal/fulfillment"
	"github.com/learnhub/backend/internal/notifications"
	"github.com/learnhub/backend/internal/payments"
	"github.com/learnhub/backend/internal/worker"
	"github.com/learnhub/backend/pkg/database"
	"github.com/learnhub/backend/pkg/mailer"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	sessionStore := payments.NewSessionStore(rdb.Client, time.Duration(cfg.Checkout.SessionTTLMinutes)*time.Minute)
	notifier := notifications.NewNotifier(notifications.NewRepository(pool), logger)
	smtp := mailer.New(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUser, cfg.Email.SMTPPass,
		cfg.Email.FromAddress, cfg.Email.FromName, logger)

	fulfiller := fulfillment.NewFulfiller(fulfillment.FulfillerParams{
		Payments:    payments.NewRepository(pool),
		Enrollments: enrollments.NewRepository(pool),
		Earnings:    earnings.NewRepository(pool),
		Courses:     courses.NewRepository(pool),
		Cart:        cart.NewRepository(pool),
		Users:       auth.NewRepository(pool),
		Sessions:    sessionStore,
		Notifier:    notifier,
		Emails:      jobQueue,
		Cache:       rdb.Client,
		Logger:      logger,
	})
	processor := worker.NewProcessor(fulfiller, smtp, emaillogs.NewRepository(pool), jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
