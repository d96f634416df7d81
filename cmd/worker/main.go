// Package main runs the background ticket worker: renders signup QR codes and archives them to S3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/salvemundi/attendance/config"
	"github.com/salvemundi/attendance/internal/signups"
	"github.com/salvemundi/attendance/internal/worker"
	"github.com/salvemundi/attendance/pkg/database"
	"github.com/salvemundi/attendance/pkg/qr"
	"github.com/salvemundi/attendance/pkg/queue"
	"github.com/salvemundi/attendance/pkg/redis"
	"github.com/salvemundi/attendance/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.AWS.TicketsBucket == "" {
		logger.Fatal("AWS_S3_TICKETS_BUCKET is required for the ticket worker")
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

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		TicketsBucket:        cfg.AWS.TicketsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	encoder, err := qr.NewEncoder(qr.Options{
		Size:       cfg.QR.Size,
		Recovery:   cfg.QR.Recovery,
		Foreground: cfg.QR.Foreground,
		Background: cfg.QR.Background,
	})
	if err != nil {
		logger.Fatal("qr encoder", zap.Error(err))
	}

	signupRepo := signups.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewTicketProcessor(signupRepo, encoder, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
