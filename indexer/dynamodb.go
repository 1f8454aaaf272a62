package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

type dynamoPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSink stores events in a table with primary key `event_id` (string).
// PutItem replaces any item with the same key.
type DynamoSink struct {
	client dynamoPutter
	table  string
	logger *zap.Logger
}

func NewDynamoSink(client *dynamodb.Client, table string, logger *zap.Logger) *DynamoSink {
	return newDynamoSink(client, table, logger)
}

func newDynamoSink(client dynamoPutter, table string, logger *zap.Logger) *DynamoSink {
	return &DynamoSink{client: client, table: table, logger: logger}
}

type ddbEvent struct {
	EventID   string            `dynamodbav:"event_id"`
	UserID    string            `dynamodbav:"user_id"`
	SessionID string            `dynamodbav:"session_id"`
	EventType string            `dynamodbav:"event_type"`
	ProductID *string           `dynamodbav:"product_id,omitempty"`
	Category  *string           `dynamodbav:"category,omitempty"`
	Price     *float64          `dynamodbav:"price,omitempty"`
	Timestamp string            `dynamodbav:"timestamp"`
	IPAddress string            `dynamodbav:"ip_address"`
	Metadata  map[string]string `dynamodbav:"metadata,omitempty"`
}

func (s *DynamoSink) Upsert(ctx context.Context, id string, event *models.ECommerceEvent) error {
	item, err := attributevalue.MarshalMap(ddbEvent{
		EventID:   id,
		UserID:    event.UserID,
		SessionID: event.SessionID,
		EventType: string(event.EventType),
		ProductID: event.ProductID,
		Category:  event.Category,
		Price:     event.Price,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	})
	if err != nil {
		return s.indexError(id, fmt.Errorf("marshal item: %w", err))
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item}); err != nil {
		return s.indexError(id, fmt.Errorf("dynamodb PutItem failed: %w", err))
	}
	s.logger.Debug("indexed event", zap.String("table", s.table), zap.String("document_id", id))
	return nil
}

func (s *DynamoSink) indexError(id string, err error) error {
	return &IndexError{Backend: BackendDynamoDB, Index: s.table, DocumentID: id, Err: err}
}
