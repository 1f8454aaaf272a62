package aws

import (
	"context"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	jsoniter "github.com/json-iterator/go"
)

// IndexCredentialsSecret names the JSON secret holding the index backend
// credentials.
const IndexCredentialsSecret = "event-tracker/INDEX_CREDENTIALS"

// IndexCredentials is the document stored under IndexCredentialsSecret. Any
// field may be empty.
type IndexCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MongoURL string `json:"mongoUrl"`
}

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsClient reads the indexer's secrets from Secrets Manager. Raw values
// are cached for the lifetime of the process.
type SecretsClient struct {
	client secretsAPI
	cache  map[string]string
	mu     sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg))
}

func newSecretsClient(api secretsAPI) *SecretsClient {
	return &SecretsClient{
		client: api,
		cache:  make(map[string]string),
	}
}

// GetIndexCredentials fetches and decodes IndexCredentialsSecret.
func (s *SecretsClient) GetIndexCredentials(ctx context.Context) (IndexCredentials, error) {
	var creds IndexCredentials
	raw, err := s.secretString(ctx, IndexCredentialsSecret)
	if err != nil {
		return creds, err
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &creds); err != nil {
		return creds, fmt.Errorf("decode secret %s: %w", IndexCredentialsSecret, err)
	}
	return creds, nil
}

func (s *SecretsClient) secretString(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	v, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()
	return *out.SecretString, nil
}
