package controllers

import (
	"net/http"

	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health for the API process.
func Health(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": service})
	}
}

// StatsProvider is satisfied by *kafka.EventConsumer.
type StatsProvider interface {
	Stats() kafka.ConsumerStats
}

// IndexerHealth handles GET /health for the indexer process. It reports 503
// once the consume loop has stopped.
func IndexerHealth(service string, consumer StatsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := consumer.Stats()
		status, code := "healthy", http.StatusOK
		if stats.State == kafka.StateStopped.String() {
			status, code = "stopped", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"service":   service,
			"state":     stats.State,
			"processed": stats.Processed,
			"skipped":   stats.Skipped,
			"failed":    stats.Failed,
		})
	}
}
