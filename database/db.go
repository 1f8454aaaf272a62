// Package database opens the process-wide clients for the index backends.
package database

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/elastic/go-elasticsearch/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// ElasticsearchConfig holds the cluster address and optional basic auth.
type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
}

// NewElasticsearch creates a client and checks that the cluster answers.
func NewElasticsearch(ctx context.Context, cfg ElasticsearchConfig, logger *zap.Logger) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to ping elasticsearch: %s", res.Status())
	}

	logger.Info("connected to elasticsearch", zap.Strings("addresses", cfg.Addresses))
	return client, nil
}

// ConnectMongo connects to MongoDB using the provided URI and pings it.
func ConnectMongo(ctx context.Context, mongoURL string, logger *zap.Logger) (*mongo.Client, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	logger.Info("connected to MongoDB")
	return client, nil
}

// CloseMongo disconnects with a bounded grace period.
func CloseMongo(client *mongo.Client, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	logger.Info("disconnected from MongoDB")
	return nil
}

// NewDynamoDB returns a DynamoDB client for an already loaded AWS config.
func NewDynamoDB(cfg sdkaws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}
