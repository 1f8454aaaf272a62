package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"

	kafkago "github.com/segmentio/kafka-go"
)

// PublishError is a broker-level send failure: a Kafka protocol error, a
// delivery timeout or an unreachable broker. Reason is stable enough to show
// to API callers.
type PublishError struct {
	Reason string
	Err    error
}

func (e *PublishError) Error() string {
	return "kafka publish failed: " + e.Reason
}

func (e *PublishError) Unwrap() error { return e.Err }

// RecordError ties a publish failure to the position of the record in a batch.
type RecordError struct {
	Index int
	Err   error
}

// BatchPublishError reports a partially delivered batch. Records that were
// acknowledged stay in the log.
type BatchPublishError struct {
	Processed int
	Errors    []RecordError
}

func (e *BatchPublishError) Error() string {
	return fmt.Sprintf("%d of %d events failed to publish", len(e.Errors), e.Processed+len(e.Errors))
}

func (e *BatchPublishError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, re := range e.Errors {
		errs[i] = re.Err
	}
	return errs
}

// BrokerFailuresOnly reports whether every failed record failed at the broker.
func (e *BatchPublishError) BrokerFailuresOnly() bool {
	for _, re := range e.Errors {
		var perr *PublishError
		if !errors.As(re.Err, &perr) {
			return false
		}
	}
	return true
}

// Reasons returns one reason per failed record, in batch order.
func (e *BatchPublishError) Reasons() []string {
	reasons := make([]string, len(e.Errors))
	for i, re := range e.Errors {
		var perr *PublishError
		if errors.As(re.Err, &perr) {
			reasons[i] = perr.Reason
		} else {
			reasons[i] = "internal error"
		}
	}
	return reasons
}

// classify turns a send failure into a *PublishError when it came from the
// broker or the transport. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if reason, ok := brokerReason(err); ok {
		return &PublishError{Reason: reason, Err: err}
	}
	return err
}

func brokerReason(err error) (string, bool) {
	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		return "Broker: " + kerr.Title(), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Local: Message timed out", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Local: Message timed out", true
		}
		return "Local: Broker transport failure", true
	}
	return "", false
}
