package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	awspkg "github.com/Hmzcck/ECommerceEventTracker/pkg/aws"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageReader is the part of *kafkago.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Indexer stores an event under id, replacing any document with the same id.
type Indexer interface {
	Upsert(ctx context.Context, id string, event *models.ECommerceEvent) error
}

// DocumentIDFunc derives the index document id for an event.
type DocumentIDFunc func(event *models.ECommerceEvent) string

// DeadLetterPublisher is satisfied by *aws.SNSClient.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

// ConsumerConfig controls the indexing loop.
type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	PollTimeout    time.Duration
	SessionTimeout time.Duration
	IndexTimeout   time.Duration
	ErrorBackoff   time.Duration
}

// State is the position of the consumer loop in its poll cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDecoding
	StateIndexing
	StateCommitting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDecoding:
		return "decoding"
	case StateIndexing:
		return "indexing"
	case StateCommitting:
		return "committing"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ConsumerStats is a snapshot of the loop's progress.
type ConsumerStats struct {
	State     string `json:"state"`
	Processed int64  `json:"processed"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}

// EventConsumer drains the events topic as one member of the consumer group
// and indexes every event it can decode. An offset is committed only after the
// index confirmed the write, so a failed write is redelivered after a restart.
// Messages are handled strictly one at a time.
type EventConsumer struct {
	reader  messageReader
	sink    Indexer
	docID   DocumentIDFunc
	decoder models.DecodeChain
	cfg     ConsumerConfig
	logger  *zap.Logger

	metrics         MetricsRecorder
	deadLetter      DeadLetterPublisher
	deadLetterTopic string

	state     atomic.Int32
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// NewEventConsumer joins cfg.GroupID on cfg.Topic. Offsets are committed
// explicitly; a group without committed offsets starts from the earliest
// message.
func NewEventConsumer(cfg ConsumerConfig, sink Indexer, docID DocumentIDFunc, logger *zap.Logger) *EventConsumer {
	sugar := logger.Sugar()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafkago.FirstOffset,
		CommitInterval: 0,
		SessionTimeout: cfg.SessionTimeout,
		Logger:         kafkago.LoggerFunc(sugar.Debugf),
		ErrorLogger:    kafkago.LoggerFunc(sugar.Errorf),
	})
	logger.Info("kafka consumer initialized",
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
		zap.Strings("brokers", cfg.Brokers),
	)
	return newEventConsumer(reader, cfg, sink, docID, logger)
}

func newEventConsumer(reader messageReader, cfg ConsumerConfig, sink Indexer, docID DocumentIDFunc, logger *zap.Logger) *EventConsumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 10 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &EventConsumer{
		reader:  reader,
		sink:    sink,
		docID:   docID,
		decoder: models.DefaultDecodeChain(),
		cfg:     cfg,
		logger:  logger,
	}
}

// WithMetrics makes the consumer report pipeline counters.
func (c *EventConsumer) WithMetrics(m MetricsRecorder) *EventConsumer {
	c.metrics = m
	return c
}

// WithDeadLetter forwards undecodable payloads to an SNS topic before they are
// skipped. Forwarding is best effort and never changes commit behaviour.
func (c *EventConsumer) WithDeadLetter(p DeadLetterPublisher, topicArn string) *EventConsumer {
	if topicArn != "" {
		c.deadLetter, c.deadLetterTopic = p, topicArn
	}
	return c
}

// State returns the current loop state.
func (c *EventConsumer) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (c *EventConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		State:     c.State().String(),
		Processed: c.processed.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *EventConsumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run polls until ctx is cancelled, then leaves the group and returns. The
// message being handled when ctx is cancelled is finished first.
func (c *EventConsumer) Run(ctx context.Context) {
	c.logger.Info("consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
	defer c.stop()

	for ctx.Err() == nil {
		c.setState(StatePolling)
		msg, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Error("kafka consume error", zap.Error(err))
			c.wait(ctx, c.cfg.ErrorBackoff)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *EventConsumer) poll(ctx context.Context) (kafkago.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()
	return c.reader.FetchMessage(pollCtx)
}

func (c *EventConsumer) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *EventConsumer) stop() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("failed to close kafka reader", zap.Error(err))
	}
	c.setState(StateStopped)
	c.logger.Info("consumer stopped",
		zap.Int64("processed", c.processed.Load()),
		zap.Int64("skipped", c.skipped.Load()),
		zap.Int64("failed", c.failed.Load()),
	)
}

// handle runs decode, index and commit for one message. Work started here is
// not interrupted by cancellation of ctx.
func (c *EventConsumer) handle(ctx context.Context, msg kafkago.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			c.logger.Error("error processing message",
				zap.Any("panic", r),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}
	}()
	ctx = context.WithoutCancel(ctx)

	c.setState(StateDecoding)
	event, format, err := c.decoder.Decode(msg.Value)
	if err != nil {
		c.skipped.Add(1)
		recordMetric(c.metrics, awspkg.MetricEventsDecodeFailed, c.dimensions())
		c.logger.Error("failed to deserialize message in every known format",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value),
			zap.Error(err),
		)
		c.forwardDeadLetter(ctx, msg, err)
		return
	}
	if format != models.CanonicalFormat.Name {
		recordMetric(c.metrics, awspkg.MetricEventsLegacyDecoded, c.dimensions())
		c.logger.Warn("processed legacy message format",
			zap.String("format", format),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
	}

	c.setState(StateIndexing)
	id := c.docID(&event)
	indexCtx, cancel := context.WithTimeout(ctx, c.cfg.IndexTimeout)
	err = c.sink.Upsert(indexCtx, id, &event)
	cancel()
	if err != nil {
		c.failed.Add(1)
		recordMetric(c.metrics, awspkg.MetricEventsIndexFailed, c.dimensions())
		c.logger.Error("failed to index event",
			zap.String("document_id", id),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	c.setState(StateCommitting)
	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.IndexTimeout)
	err = c.reader.CommitMessages(commitCtx, msg)
	cancel()
	if err != nil {
		c.failed.Add(1)
		c.logger.Error("failed to commit offset",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	c.processed.Add(1)
	recordMetric(c.metrics, awspkg.MetricEventsIndexed, c.dimensions())
	c.logger.Info("processed event",
		zap.String("event_type", string(event.EventType)),
		zap.String("user_id", event.UserID),
		zap.String("document_id", id),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
}

type deadLetter struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Key       string `json:"key"`
	Payload   string `json:"payload"`
	Error     string `json:"error"`
}

func (c *EventConsumer) forwardDeadLetter(ctx context.Context, msg kafkago.Message, cause error) {
	if c.deadLetter == nil {
		return
	}
	body, err := json.Marshal(deadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Payload:   string(msg.Value),
		Error:     cause.Error(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.IndexTimeout)
	defer cancel()
	if err := c.deadLetter.Publish(ctx, c.deadLetterTopic, body); err != nil {
		c.logger.Warn("failed to forward undecodable message", zap.Error(err))
	}
}

func (c *EventConsumer) dimensions() map[string]string {
	return map[string]string{"Topic": c.cfg.Topic, "Group": c.cfg.GroupID}
}
