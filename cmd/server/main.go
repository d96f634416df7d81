// Package main runs the attendance HTTP server with the live check-in feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/salvemundi/attendance/config"
	"github.com/salvemundi/attendance/internal/attendance"
	"github.com/salvemundi/attendance/internal/auth"
	"github.com/salvemundi/attendance/internal/committees"
	"github.com/salvemundi/attendance/internal/events"
	"github.com/salvemundi/attendance/internal/metrics"
	"github.com/salvemundi/attendance/internal/middleware"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/realtime"
	"github.com/salvemundi/attendance/internal/signups"
	"github.com/salvemundi/attendance/internal/tokens"
	"github.com/salvemundi/attendance/pkg/database"
	"github.com/salvemundi/attendance/pkg/qr"
	"github.com/salvemundi/attendance/pkg/queue"
	"github.com/salvemundi/attendance/pkg/redis"
	"github.com/salvemundi/attendance/pkg/response"
	"github.com/salvemundi/attendance/pkg/storage"
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

	var archive signups.TicketArchive
	if cfg.AWS.TicketsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TicketsBucket:        cfg.AWS.TicketsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, tickets render on request", zap.Error(err))
		} else {
			archive = s3Client
		}
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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.Issuer)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	limiter := middleware.NewRateLimiter(rdb.Client, logger)

	// Repositories
	authRepo := auth.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	committeeRepo := committees.NewRepository(pool)
	signupRepo := signups.NewRepository(pool)

	// Services
	authorizer := attendance.NewAuthorizer(authRepo, eventRepo, committeeRepo, cfg.Attendance.GlobalCommittees, logger)
	var ticketQueue signups.TicketQueue
	if archive != nil {
		ticketQueue = queue.NewQueue(rdb.Client, logger)
	}
	signupService := signups.NewService(signupRepo, tokens.NewGenerator(nil), ticketQueue, logger)
	checkInService := attendance.NewService(signupRepo, authorizer, hub, logger)

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	eventHandler := events.NewHandler(eventRepo, logger)
	committeeHandler := committees.NewHandler(committeeRepo, logger)
	signupHandler := signups.NewHandler(signupService, eventRepo, signupRepo, archive, encoder, cfg.Server.PublicBaseURL, logger)
	attendanceHandler := attendance.NewHandler(checkInService, authorizer, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	// Public: signups and tickets (the token is the capability)
	router.POST("/events/:id/signups",
		middleware.OptionalJWT(jwtService),
		limiter.Limit("signup", cfg.RateLimit.SignupPerMinute, time.Minute),
		signupHandler.Create)
	router.GET("/tickets/:token/qr.png", signupHandler.QRImage)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", limiter.Limit("login", cfg.RateLimit.LoginPerMinute, time.Minute), authHandler.Login)
		authGroup.POST("/users", middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin), authHandler.CreateUser)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		checkInLimit := limiter.Limit("checkin", cfg.RateLimit.CheckInPerMinute, time.Minute)
		api.POST("/attendance/check-in", checkInLimit, attendanceHandler.CheckIn)
		api.POST("/attendance/scan", checkInLimit, attendanceHandler.Scan)
		api.GET("/attendance/authorized", attendanceHandler.Authorized)

		api.GET("/events/:id", eventHandler.GetByID)
		api.GET("/events/:id/attendance", attendance.RequireEventAccess(authorizer), attendanceHandler.EventAttendance)
		api.POST("/events/:id/officers", middleware.RequireRole(models.RoleAdmin), eventHandler.AddOfficer)
		api.DELETE("/events/:id/officers", middleware.RequireRole(models.RoleAdmin), eventHandler.RemoveOfficer)

		api.GET("/committees/mine", committeeHandler.Mine)
		api.POST("/committees/:id/members", middleware.RequireRole(models.RoleAdmin), committeeHandler.AddMember)
	}

	// WebSocket (token in query; browsers cannot set headers on the upgrade request)
	router.GET("/ws", realtime.ServeWs(hub, realtime.NewUpgrader(splitOrigins(cfg.Server.CORSAllowedOrigins)), jwtValidate, authorizer.Authorized, logger))

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

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
