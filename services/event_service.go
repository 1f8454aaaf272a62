package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Hmzcck/ECommerceEventTracker/common/errors"
	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceError is a typed error with an HTTP status code. Processed and
// Reasons are set for partially delivered batches.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
	Processed  int
	Reasons    []string
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// EventPublisher is satisfied by *kafka.EventProducer.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.ECommerceEvent) (kafka.Delivery, error)
	PublishBatch(ctx context.Context, events []models.ECommerceEvent) (int, error)
}

// EventService defines the ingestion use cases of the HTTP edge.
type EventService interface {
	Track(ctx context.Context, req models.TrackEventRequest, ipAddress string) (kafka.Delivery, *ServiceError)
	TrackBatch(ctx context.Context, reqs []models.TrackEventRequest, ipAddress string) (int, *ServiceError)
	GenerateTestData(ctx context.Context, count int) (int, *ServiceError)
}

// EventServiceConfig holds the limits applied by the service.
type EventServiceConfig struct {
	// TestDataEnabled allows GenerateTestData; only development sets it.
	TestDataEnabled bool
	MaxBatchSize    int
	MaxTestEvents   int
}

// DefaultTestEventCount is used when the request names no count.
const DefaultTestEventCount = 100

type eventServiceImpl struct {
	publisher EventPublisher
	cfg       EventServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(publisher EventPublisher, cfg EventServiceConfig, logger *zap.Logger) EventService {
	return &eventServiceImpl{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Track enriches one event and publishes it.
func (s *eventServiceImpl) Track(ctx context.Context, req models.TrackEventRequest, ipAddress string) (kafka.Delivery, *ServiceError) {
	if err := validateRequest(&req); err != nil {
		return kafka.Delivery{}, &ServiceError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	event := models.Enrich(req, ipAddress, s.now())
	delivery, err := s.publisher.Publish(ctx, &event)
	if err != nil {
		var perr *kafka.PublishError
		if errors.As(err, &perr) {
			return kafka.Delivery{}, &ServiceError{
				StatusCode: http.StatusBadRequest,
				Message:    "Kafka error: " + perr.Reason,
				Err:        err,
			}
		}
		s.logger.Error("Track failed", zap.String("user_id", req.UserID), zap.Error(err))
		return kafka.Delivery{}, &ServiceError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Unexpected error",
			Err:        err,
		}
	}
	return delivery, nil
}

// TrackBatch enriches every event with the caller's address and a fresh
// timestamp and publishes them together.
func (s *eventServiceImpl) TrackBatch(ctx context.Context, reqs []models.TrackEventRequest, ipAddress string) (int, *ServiceError) {
	if s.cfg.MaxBatchSize > 0 && len(reqs) > s.cfg.MaxBatchSize {
		return 0, &ServiceError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("Batch of %d events exceeds the limit of %d", len(reqs), s.cfg.MaxBatchSize),
		}
	}

	events := make([]models.ECommerceEvent, len(reqs))
	for i := range reqs {
		if err := validateRequest(&reqs[i]); err != nil {
			return 0, &ServiceError{
				StatusCode: http.StatusBadRequest,
				Message:    "event " + strconv.Itoa(i) + ": " + err.Error(),
			}
		}
		events[i] = models.Enrich(reqs[i], ipAddress, s.now())
	}

	return s.publishBatch(ctx, events, "Batch processing failed")
}

// GenerateTestData publishes count synthetic events. It is refused unless
// TestDataEnabled is set.
func (s *eventServiceImpl) GenerateTestData(ctx context.Context, count int) (int, *ServiceError) {
	if !s.cfg.TestDataEnabled {
		return 0, &ServiceError{
			StatusCode: apperrors.ErrForbidden.Code,
			Message:    "Test data generation is only available in development",
			Err:        apperrors.ErrForbidden,
		}
	}
	if count < 0 {
		return 0, &ServiceError{StatusCode: http.StatusBadRequest, Message: "count must not be negative"}
	}
	if s.cfg.MaxTestEvents > 0 && count > s.cfg.MaxTestEvents {
		return 0, &ServiceError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("count must not exceed %d", s.cfg.MaxTestEvents),
		}
	}

	events := s.syntheticEvents(count)
	return s.publishBatch(ctx, events, "Test data generation failed")
}

func (s *eventServiceImpl) publishBatch(ctx context.Context, events []models.ECommerceEvent, failure string) (int, *ServiceError) {
	processed, err := s.publisher.PublishBatch(ctx, events)
	if err == nil {
		return processed, nil
	}

	var batchErr *kafka.BatchPublishError
	if errors.As(err, &batchErr) && batchErr.BrokerFailuresOnly() {
		return processed, &ServiceError{
			StatusCode: http.StatusBadRequest,
			Message:    failure,
			Err:        err,
			Processed:  processed,
			Reasons:    batchErr.Reasons(),
		}
	}

	s.logger.Error(failure, zap.Int("processed", processed), zap.Error(err))
	return processed, &ServiceError{
		StatusCode: http.StatusInternalServerError,
		Message:    failure,
		Err:        err,
		Processed:  processed,
	}
}

var testCategories = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}

const (
	testUserCount    = 50
	testProductCount = 20
)

func (s *eventServiceImpl) syntheticEvents(count int) []models.ECommerceEvent {
	users := make([]string, testUserCount)
	for i := range users {
		users[i] = uuid.NewString()
	}
	types := models.EventTypes()
	now := s.now().UTC()

	events := make([]models.ECommerceEvent, count)
	for i := range events {
		product := "prod_" + strconv.Itoa(rand.IntN(testProductCount)+1)
		category := testCategories[rand.IntN(len(testCategories))]
		price := float64(10 + rand.IntN(490))
		events[i] = models.ECommerceEvent{
			UserID:    users[rand.IntN(len(users))],
			SessionID: uuid.NewString()[:8],
			EventType: types[rand.IntN(len(types))],
			ProductID: &product,
			Category:  &category,
			Price:     &price,
			Timestamp: now.Add(-time.Duration(rand.IntN(24*60)) * time.Minute),
			IPAddress: "192.168.1." + strconv.Itoa(1+rand.IntN(254)),
		}
	}
	return events
}

func validateRequest(req *models.TrackEventRequest) error {
	switch {
	case req.UserID == "":
		return errors.New("userId is required")
	case req.SessionID == "":
		return errors.New("sessionId is required")
	case !req.EventType.IsValid():
		return fmt.Errorf("unknown event type %q", req.EventType)
	case req.Price != nil && *req.Price < 0:
		return errors.New("price must not be negative")
	}
	return nil
}
