package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/common/logger"
	"github.com/Hmzcck/ECommerceEventTracker/common/middleware"
	"github.com/Hmzcck/ECommerceEventTracker/config"
	"github.com/Hmzcck/ECommerceEventTracker/controllers"
	"github.com/Hmzcck/ECommerceEventTracker/database"
	"github.com/Hmzcck/ECommerceEventTracker/indexer"
	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "event-indexer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS is optional: it backs metrics, log shipping, secrets, the dead
	// letter topic and the dynamodb backend.
	needAWS := cfg.CloudWatchEnabled || cfg.UseSecrets || cfg.DeadLetterTopicARN != "" ||
		cfg.IndexBackend == indexer.BackendDynamoDB
	var awsCfg sdkaws.Config
	if needAWS {
		if awsCfg, err = awspkg.LoadAWSConfig(ctx); err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
	}

	var metrics *awspkg.MetricsClient
	var cwLogs *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, true)
		if cfg.CloudWatchLogGroup != "" {
			if cwLogs, err = awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName); err != nil {
				log.Printf("CloudWatch Logs disabled: %v", err)
			}
		}
	}

	var zapLogger *zap.Logger
	if cwLogs != nil {
		zapLogger, err = logger.Initialize(cfg.Env, cwLogs)
	} else {
		zapLogger, err = logger.Initialize(cfg.Env, nil)
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	if cfg.UseSecrets {
		if err := cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg)); err != nil {
			zapLogger.Warn("Secrets Manager unavailable, using environment credentials", zap.Error(err))
		}
	}

	sink, closeSink, err := openSink(ctx, cfg, awsCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open index backend", zap.String("backend", cfg.IndexBackend), zap.Error(err))
	}
	defer closeSink()

	consumer := kafka.NewEventConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		PollTimeout:    cfg.KafkaPollTimeout,
		SessionTimeout: cfg.KafkaSessionTimeout,
		IndexTimeout:   cfg.IndexTimeout,
	}, sink, cfg.IndexIDPolicy.DocumentID, zapLogger)
	if metrics != nil {
		consumer.WithMetrics(metrics)
	}
	if cfg.DeadLetterTopicARN != "" {
		consumer.WithDeadLetter(awspkg.NewSNSClient(awsCfg), cfg.DeadLetterTopicARN)
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.GET("/health", controllers.IndexerHealth(serviceName, consumer))

	srv := &http.Server{
		Addr:              ":" + cfg.IndexerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("Health server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Event indexer started",
		zap.String("backend", cfg.IndexBackend),
		zap.String("index", cfg.IndexName),
		zap.String("id_policy", string(cfg.IndexIDPolicy)),
	)
	consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Health server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Event indexer exited cleanly")
}

// openSink connects the configured index backend. The returned func releases
// its client.
func openSink(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, zapLogger *zap.Logger) (indexer.Sink, func(), error) {
	switch cfg.IndexBackend {
	case indexer.BackendElasticsearch:
		client, err := database.NewElasticsearch(ctx, database.ElasticsearchConfig{
			Addresses: cfg.ElasticsearchURLs,
			Username:  cfg.ElasticsearchUsername,
			Password:  cfg.ElasticsearchPassword,
		}, zapLogger)
		if err != nil {
			return nil, nil, err
		}
		return indexer.NewElasticsearchSink(client, cfg.IndexName, zapLogger), func() {}, nil

	case indexer.BackendMongoDB:
		client, err := database.ConnectMongo(ctx, cfg.MongoURL, zapLogger)
		if err != nil {
			return nil, nil, err
		}
		collection := client.Database(cfg.MongoDB).Collection(cfg.IndexName)
		closeFn := func() {
			if err := database.CloseMongo(client, zapLogger); err != nil {
				zapLogger.Error("Failed to close MongoDB", zap.Error(err))
			}
		}
		return indexer.NewMongoSink(collection, zapLogger), closeFn, nil

	case indexer.BackendDynamoDB:
		client := database.NewDynamoDB(awsCfg)
		return indexer.NewDynamoSink(client, cfg.DynamoDBTable, zapLogger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
}
