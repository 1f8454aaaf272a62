package indexer

import (
	"context"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoSink stores events in a collection keyed by _id.
type MongoSink struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoSink(collection *mongo.Collection, logger *zap.Logger) *MongoSink {
	return &MongoSink{collection: collection, logger: logger}
}

type eventDocument struct {
	ID        string            `bson:"_id"`
	UserID    string            `bson:"userId"`
	SessionID string            `bson:"sessionId"`
	EventType string            `bson:"eventType"`
	ProductID *string           `bson:"productId,omitempty"`
	Category  *string           `bson:"category,omitempty"`
	Price     *float64          `bson:"price,omitempty"`
	Timestamp time.Time         `bson:"timestamp"`
	IPAddress string            `bson:"ipAddress"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
}

func (s *MongoSink) Upsert(ctx context.Context, id string, event *models.ECommerceEvent) error {
	doc := eventDocument{
		ID:        id,
		UserID:    event.UserID,
		SessionID: event.SessionID,
		EventType: string(event.EventType),
		ProductID: event.ProductID,
		Category:  event.Category,
		Price:     event.Price,
		Timestamp: event.Timestamp,
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &IndexError{
			Backend:    BackendMongoDB,
			Index:      s.collection.Name(),
			DocumentID: id,
			Err:        err,
		}
	}
	s.logger.Debug("indexed event",
		zap.String("collection", s.collection.Name()),
		zap.String("document_id", id),
		zap.Int64("upserted", res.UpsertedCount),
		zap.Int64("modified", res.ModifiedCount),
	)
	return nil
}
