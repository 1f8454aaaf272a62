package kafka

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// produceClient is the part of *kafkago.Client the producer uses.
type produceClient interface {
	Metadata(ctx context.Context, req *kafkago.MetadataRequest) (*kafkago.MetadataResponse, error)
	Produce(ctx context.Context, req *kafkago.ProduceRequest) (*kafkago.ProduceResponse, error)
}

// ProducerConfig controls delivery of tracked events.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks kafkago.RequiredAcks
	WriteTimeout time.Duration
	MaxInFlight  int
	MetadataTTL  time.Duration
}

// Delivery is the position the broker assigned to a published event.
type Delivery struct {
	Partition int   `json:"partition"`
	Offset    int64 `json:"offset"`
}

// EventProducer writes events to the topic keyed by user id, so every event of
// one user lands on the same partition in publish order. It never retries.
type EventProducer struct {
	client   produceClient
	balancer kafkago.Balancer
	cfg      ProducerConfig
	metrics  MetricsRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	partitions []int
	fetchedAt  time.Time
}

// NewEventProducer creates the process-wide producer. The underlying client
// pools broker connections and is safe for concurrent use.
func NewEventProducer(cfg ProducerConfig, metrics MetricsRecorder, logger *zap.Logger) *EventProducer {
	client := &kafkago.Client{
		Addr:    kafkago.TCP(cfg.Brokers...),
		Timeout: cfg.WriteTimeout,
	}
	p := newEventProducer(client, cfg, metrics, logger)
	logger.Info("kafka producer initialized",
		zap.String("topic", cfg.Topic),
		zap.Strings("brokers", cfg.Brokers),
		zap.Int("required_acks", int(cfg.RequiredAcks)),
	)
	return p
}

func newEventProducer(client produceClient, cfg ProducerConfig, metrics MetricsRecorder, logger *zap.Logger) *EventProducer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 30 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 5
	}
	return &EventProducer{
		client:   client,
		balancer: &kafkago.Murmur2Balancer{},
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish serializes event, sends it to the partition owned by its user id and
// waits for the acknowledgement level configured in RequiredAcks.
func (p *EventProducer) Publish(ctx context.Context, event *models.ECommerceEvent) (Delivery, error) {
	partition, err := p.partitionFor(ctx, event.UserID)
	if err != nil {
		return Delivery{}, p.fail(event, classify(err))
	}
	return p.send(ctx, event, partition)
}

// PublishBatch groups events by partition and sends the groups concurrently,
// bounded by MaxInFlight. Within a group events go out one at a time in batch
// order, so a user's events keep their relative order. It returns how many
// were acknowledged; when any failed the error is a *BatchPublishError listing
// each failure.
func (p *EventProducer) PublishBatch(ctx context.Context, events []models.ECommerceEvent) (int, error) {
	errs := make([]error, len(events))

	groups := make(map[int][]int)
	var order []int
	for i := range events {
		partition, err := p.partitionFor(ctx, events[i].UserID)
		if err != nil {
			errs[i] = p.fail(&events[i], classify(err))
			continue
		}
		if _, ok := groups[partition]; !ok {
			order = append(order, partition)
		}
		groups[partition] = append(groups[partition], i)
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxInFlight)
	for _, partition := range order {
		indexes := groups[partition]
		g.Go(func() error {
			for _, i := range indexes {
				_, errs[i] = p.send(ctx, &events[i], partition)
			}
			return nil
		})
	}
	_ = g.Wait()

	var batchErr BatchPublishError
	for i, err := range errs {
		if err != nil {
			batchErr.Errors = append(batchErr.Errors, RecordError{Index: i, Err: err})
			continue
		}
		batchErr.Processed++
	}
	if len(batchErr.Errors) > 0 {
		return batchErr.Processed, &batchErr
	}
	return batchErr.Processed, nil
}

// partitionFor balances userID over the topic's partitions.
func (p *EventProducer) partitionFor(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	partitions, err := p.topicPartitions(ctx)
	if err != nil {
		return 0, err
	}
	return p.balancer.Balance(kafkago.Message{Key: []byte(userID)}, partitions...), nil
}

func (p *EventProducer) send(ctx context.Context, event *models.ECommerceEvent, partition int) (Delivery, error) {
	payload, err := models.Marshal(event)
	if err != nil {
		return Delivery{}, fmt.Errorf("serialize event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	res, err := p.client.Produce(ctx, &kafkago.ProduceRequest{
		Topic:        p.cfg.Topic,
		Partition:    partition,
		RequiredAcks: p.cfg.RequiredAcks,
		Records: kafkago.NewRecordReader(kafkago.Record{
			Time:  event.Timestamp,
			Key:   kafkago.NewBytes([]byte(event.UserID)),
			Value: kafkago.NewBytes(payload),
		}),
	})
	if err == nil {
		err = responseError(res)
	}
	if err != nil {
		return Delivery{}, p.fail(event, classify(err))
	}

	d := Delivery{Partition: partition, Offset: res.BaseOffset}
	recordMetric(p.metrics, awspkg.MetricEventsPublished, map[string]string{
		"Topic":     p.cfg.Topic,
		"EventType": string(event.EventType),
	})
	p.logger.Debug("event published",
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.EventType)),
		zap.Int("partition", d.Partition),
		zap.Int64("offset", d.Offset),
	)
	return d, nil
}

// topicPartitions returns the sorted partition ids of the topic, refreshing the
// cached list once it is older than MetadataTTL.
func (p *EventProducer) topicPartitions(ctx context.Context) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.partitions) > 0 && p.now().Sub(p.fetchedAt) < p.cfg.MetadataTTL {
		return p.partitions, nil
	}

	res, err := p.client.Metadata(ctx, &kafkago.MetadataRequest{Topics: []string{p.cfg.Topic}})
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", p.cfg.Topic, err)
	}
	for _, t := range res.Topics {
		if t.Name != p.cfg.Topic {
			continue
		}
		if t.Error != nil {
			return nil, t.Error
		}
		ids := make([]int, 0, len(t.Partitions))
		for _, part := range t.Partitions {
			ids = append(ids, part.ID)
		}
		if len(ids) == 0 {
			break
		}
		slices.Sort(ids)
		p.partitions, p.fetchedAt = ids, p.now()
		return ids, nil
	}
	return nil, kafkago.UnknownTopicOrPartition
}

func (p *EventProducer) fail(event *models.ECommerceEvent, err error) error {
	recordMetric(p.metrics, awspkg.MetricEventsPublishFailed, map[string]string{"Topic": p.cfg.Topic})
	p.logger.Error("failed to publish event",
		zap.String("topic", p.cfg.Topic),
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.EventType)),
		zap.Error(err),
	)
	return err
}

func responseError(res *kafkago.ProduceResponse) error {
	if res == nil {
		return fmt.Errorf("empty produce response")
	}
	if res.Error != nil {
		return res.Error
	}
	for _, err := range res.RecordErrors {
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseRequiredAcks maps "none", "leader" (or "1") and "all" (or "-1") to the
// kafka-go acknowledgement level.
func ParseRequiredAcks(s string) (kafkago.RequiredAcks, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return kafkago.RequireNone, nil
	case "", "leader", "one", "1":
		return kafkago.RequireOne, nil
	case "all", "-1":
		return kafkago.RequireAll, nil
	}
	return 0, fmt.Errorf("invalid required acks %q: want none, leader or all", s)
}
