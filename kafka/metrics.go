package kafka

import (
	"context"
	"time"
)

// MetricsRecorder is satisfied by *aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

const metricTimeout = 5 * time.Second

// recordMetric ships a counter in the background so the pipeline never waits
// on CloudWatch.
func recordMetric(m MetricsRecorder, name string, dimensions map[string]string) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricTimeout)
		defer cancel()
		_ = m.RecordCount(ctx, name, dimensions)
	}()
}
