package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	apperrors "github.com/Hmzcck/ECommerceEventTracker/common/errors"
	"github.com/Hmzcck/ECommerceEventTracker/common/logger"
	"github.com/Hmzcck/ECommerceEventTracker/common/middleware"
	"github.com/Hmzcck/ECommerceEventTracker/config"
	"github.com/Hmzcck/ECommerceEventTracker/controllers"
	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	"github.com/Hmzcck/ECommerceEventTracker/routes"
	"github.com/Hmzcck/ECommerceEventTracker/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "event-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *awspkg.MetricsClient
	var cwLogs *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled {
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, true)
		if cfg.CloudWatchLogGroup != "" {
			if cwLogs, err = awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName); err != nil {
				log.Printf("CloudWatch Logs disabled: %v", err)
			}
		}
	}

	zapLogger, err := initLogger(cfg.Env, cwLogs)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	producer := kafka.NewEventProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaTopic,
		RequiredAcks: cfg.KafkaRequiredAcks,
		WriteTimeout: cfg.KafkaWriteTimeout,
		MaxInFlight:  cfg.KafkaMaxInFlight,
		MetadataTTL:  cfg.KafkaMetadataTTL,
	}, metricsRecorder(metrics), zapLogger)

	eventService := services.NewEventService(producer, services.EventServiceConfig{
		TestDataEnabled: cfg.IsDevelopment(),
		MaxBatchSize:    cfg.MaxBatchSize,
		MaxTestEvents:   cfg.MaxTestEvents,
	}, zapLogger)
	eventController := controllers.NewEventController(eventService)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r, err := routes.NewEngine(cfg.TrustedProxies)
	if err != nil {
		zapLogger.Fatal("Invalid TRUSTED_PROXIES", zap.Error(err))
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst, ctx.Done()))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", controllers.Health(serviceName))
	routes.RegisterEventRoutes(r, eventController)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Event API started",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("topic", cfg.KafkaTopic),
	)
	<-ctx.Done()
	zapLogger.Info("Shutting down event API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

// initLogger tees the process logger into CloudWatch Logs when a client is
// available.
func initLogger(env string, cwLogs *awspkg.CloudWatchLogsClient) (*zap.Logger, error) {
	if cwLogs == nil {
		return logger.Initialize(env, nil)
	}
	return logger.Initialize(env, cwLogs)
}

// metricsRecorder keeps a nil client from becoming a non-nil interface.
func metricsRecorder(m *awspkg.MetricsClient) kafka.MetricsRecorder {
	if m == nil {
		return nil
	}
	return m
}
