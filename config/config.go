package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/indexer"
	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
)

// Config holds every setting of both binaries.
type Config struct {
	Env         string
	Port        string
	IndexerPort string

	KafkaBrokers        []string
	KafkaTopic          string
	KafkaGroupID        string
	KafkaRequiredAcks   kafkago.RequiredAcks
	KafkaWriteTimeout   time.Duration
	KafkaMaxInFlight    int
	KafkaMetadataTTL    time.Duration
	KafkaPollTimeout    time.Duration
	KafkaSessionTimeout time.Duration

	IndexBackend          string
	IndexName             string
	IndexIDPolicy         indexer.IDPolicy
	IndexTimeout          time.Duration
	ElasticsearchURLs     []string
	ElasticsearchUsername string
	ElasticsearchPassword string
	MongoURL              string
	MongoDB               string
	DynamoDBTable         string
	DeadLetterTopicARN    string

	AllowedOrigins     []string
	TrustedProxies     []string
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxBatchSize       int
	MaxTestEvents      int

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	UseSecrets bool
}

// IsDevelopment reports whether development-only endpoints are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads the environment and validates it. Values from the given .env
// files (".env" when none is given) fill in variables that are not already set;
// a missing file is not an error. Every problem found is reported, not just the
// first.
func Load(envFiles ...string) (*Config, error) {
	var errs []error
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("load env file: %w", err))
	}
	env := envReader{errs: &errs}

	cfg := &Config{
		Env:         env.str("APP_ENV", "production"),
		Port:        env.str("PORT", "8080"),
		IndexerPort: env.str("INDEXER_PORT", "8081"),

		KafkaBrokers:        env.list("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:          env.str("KAFKA_TOPIC", "ecommerce-events"),
		KafkaGroupID:        env.str("KAFKA_GROUP_ID", "ecommerce-analytics-group"),
		KafkaWriteTimeout:   env.duration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		KafkaMaxInFlight:    env.int("KAFKA_MAX_IN_FLIGHT", 5),
		KafkaMetadataTTL:    env.duration("KAFKA_METADATA_TTL", 30*time.Second),
		KafkaPollTimeout:    env.duration("KAFKA_POLL_TIMEOUT", time.Second),
		KafkaSessionTimeout: env.duration("KAFKA_SESSION_TIMEOUT", 30*time.Second),

		IndexName:             env.str("INDEX_NAME", indexer.DefaultIndexName),
		IndexTimeout:          env.duration("INDEX_TIMEOUT", 10*time.Second),
		ElasticsearchURLs:     env.list("ELASTICSEARCH_URL", "http://localhost:9200"),
		ElasticsearchUsername: os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticsearchPassword: os.Getenv("ELASTICSEARCH_PASSWORD"),
		MongoURL:              env.str("MONGO_URL", "mongodb://localhost:27017"),
		MongoDB:               env.str("MONGO_DB", "ecommerce"),
		DynamoDBTable:         env.str("DYNAMODB_TABLE", "ecommerce-events"),
		DeadLetterTopicARN:    os.Getenv("DEAD_LETTER_TOPIC_ARN"),

		AllowedOrigins:     env.list("ALLOWED_ORIGINS", "*"),
		TrustedProxies:     env.list("TRUSTED_PROXIES", ""),
		RateLimitPerMinute: env.int("RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:     env.int("RATE_LIMIT_BURST", 100),
		MaxBatchSize:       env.int("MAX_BATCH_SIZE", 1000),
		MaxTestEvents:      env.int("MAX_TEST_EVENTS", 10000),

		CloudWatchEnabled:   env.bool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: env.str("CLOUDWATCH_NAMESPACE", "ECommerce/EventTracker"),
		CloudWatchLogGroup:  os.Getenv("CLOUDWATCH_LOG_GROUP"),

		UseSecrets: env.bool("AWS_USE_SECRETS", false),
	}

	acks, err := kafka.ParseRequiredAcks(os.Getenv("KAFKA_REQUIRED_ACKS"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.KafkaRequiredAcks = acks

	if cfg.IndexBackend, err = indexer.ParseBackend(os.Getenv("INDEX_BACKEND")); err != nil {
		errs = append(errs, err)
	}
	if cfg.IndexIDPolicy, err = indexer.ParseIDPolicy(os.Getenv("INDEX_ID_POLICY")); err != nil {
		errs = append(errs, err)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if cfg.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required"))
	}
	if cfg.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("MAX_BATCH_SIZE must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CredentialsSource is satisfied by *aws.SecretsClient.
type CredentialsSource interface {
	GetIndexCredentials(ctx context.Context) (awspkg.IndexCredentials, error)
}

// ApplySecrets overrides index credentials with the values stored in Secrets
// Manager when AWS_USE_SECRETS=true. Empty fields leave the environment value
// in place.
func (c *Config) ApplySecrets(ctx context.Context, src CredentialsSource) error {
	creds, err := src.GetIndexCredentials(ctx)
	if err != nil {
		return err
	}
	if creds.Username != "" {
		c.ElasticsearchUsername = creds.Username
	}
	if creds.Password != "" {
		c.ElasticsearchPassword = creds.Password
	}
	if creds.MongoURL != "" {
		c.MongoURL = creds.MongoURL
	}
	return nil
}

type envReader struct {
	errs *[]error
}

func (r envReader) str(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (r envReader) list(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r envReader) int(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (r envReader) duration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (r envReader) bool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
