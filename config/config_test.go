package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/indexer"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_ENV", "PORT", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_REQUIRED_ACKS",
	"KAFKA_POLL_TIMEOUT", "KAFKA_MAX_IN_FLIGHT", "INDEX_BACKEND", "INDEX_ID_POLICY",
	"ALLOWED_ORIGINS", "CLOUDWATCH_ENABLED", "MAX_BATCH_SIZE",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ecommerce-events", cfg.KafkaTopic)
	assert.Equal(t, "ecommerce-analytics-group", cfg.KafkaGroupID)
	assert.Equal(t, kafkago.RequireOne, cfg.KafkaRequiredAcks)
	assert.Equal(t, 5*time.Second, cfg.KafkaWriteTimeout)
	assert.Equal(t, time.Second, cfg.KafkaPollTimeout)
	assert.Equal(t, indexer.BackendElasticsearch, cfg.IndexBackend)
	assert.Equal(t, indexer.IDPolicyContent, cfg.IndexIDPolicy)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.CloudWatchEnabled)
}

func TestLoad_FromEnvAndFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("KAFKA_REQUIRED_ACKS", "all")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"APP_ENV=development\nKAFKA_BROKERS=ignored:9092\nINDEX_BACKEND=mongodb\nKAFKA_POLL_TIMEOUT=250ms\n",
	), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("APP_ENV")
		_ = os.Unsetenv("INDEX_BACKEND")
		_ = os.Unsetenv("KAFKA_POLL_TIMEOUT")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	// variables already in the environment win over the file
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, kafkago.RequireAll, cfg.KafkaRequiredAcks)
	assert.Equal(t, indexer.BackendMongoDB, cfg.IndexBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.KafkaPollTimeout)
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_REQUIRED_ACKS", "maybe")
	t.Setenv("INDEX_BACKEND", "solr")
	t.Setenv("KAFKA_MAX_IN_FLIGHT", "five")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "required acks")
	assert.ErrorContains(t, err, "solr")
	assert.ErrorContains(t, err, "KAFKA_MAX_IN_FLIGHT")
}

type fakeCredentials struct {
	creds awspkg.IndexCredentials
	err   error
}

func (f fakeCredentials) GetIndexCredentials(context.Context) (awspkg.IndexCredentials, error) {
	return f.creds, f.err
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{ElasticsearchUsername: "env-user", MongoURL: "mongodb://env"}
	err := cfg.ApplySecrets(context.Background(), fakeCredentials{creds: awspkg.IndexCredentials{
		Password: "s3cret",
		MongoURL: "mongodb://secret",
	}})
	require.NoError(t, err)

	assert.Equal(t, "env-user", cfg.ElasticsearchUsername)
	assert.Equal(t, "s3cret", cfg.ElasticsearchPassword)
	assert.Equal(t, "mongodb://secret", cfg.MongoURL)
}

func TestApplySecrets_Missing(t *testing.T) {
	cfg := &Config{MongoURL: "mongodb://env"}
	err := cfg.ApplySecrets(context.Background(), fakeCredentials{err: errors.New("ResourceNotFoundException")})
	require.Error(t, err)
	assert.Equal(t, "mongodb://env", cfg.MongoURL)
}
