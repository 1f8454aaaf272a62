package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/Hmzcck/ECommerceEventTracker/common/errors"
	"github.com/Hmzcck/ECommerceEventTracker/common/logger"
	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/Hmzcck/ECommerceEventTracker/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventController handles HTTP requests for event ingestion.
type EventController struct {
	eventService services.EventService
}

// NewEventController creates a new EventController.
func NewEventController(svc services.EventService) *EventController {
	return &EventController{eventService: svc}
}

// Track handles POST /events/track
func (ec *EventController) Track(c *gin.Context) {
	var req models.TrackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request: " + err.Error()})
		return
	}

	delivery, svcErr := ec.eventService.Track(c.Request.Context(), req, c.ClientIP())
	if svcErr != nil {
		ec.fail(c, svcErr, "Unexpected error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Event tracked successfully",
		"partition": delivery.Partition,
		"offset":    delivery.Offset,
	})
}

// TrackBatch handles POST /events/track-batch
func (ec *EventController) TrackBatch(c *gin.Context) {
	var reqs []models.TrackEventRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request: " + err.Error()})
		return
	}

	processed, svcErr := ec.eventService.TrackBatch(c.Request.Context(), reqs, c.ClientIP())
	if svcErr != nil {
		ec.fail(c, svcErr, "Batch processing error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        fmt.Sprintf("Batch of %d events tracked", len(reqs)),
		"processedCount": processed,
	})
}

// GenerateTestData handles POST /events/generate-test-data?count=N
func (ec *EventController) GenerateTestData(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(services.DefaultTestEventCount)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "count must be an integer"})
		return
	}

	processed, svcErr := ec.eventService.GenerateTestData(c.Request.Context(), count)
	if svcErr != nil {
		ec.fail(c, svcErr, "Test data generation error")
		return
	}

	logger.Info(c, "test data generated", zap.Int("count", processed))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Generated %d test events", processed),
	})
}

// fail renders a service error. Server-side failures and errors carrying an
// application error are handed to the error middleware as a problem response;
// everything else is answered directly.
func (ec *EventController) fail(c *gin.Context, svcErr *services.ServiceError, problem string) {
	var appErr *apperrors.Error
	if errors.As(svcErr.Err, &appErr) {
		_ = c.Error(apperrors.New(appErr.Code, svcErr.Message, nil))
		return
	}
	if svcErr.StatusCode >= http.StatusInternalServerError {
		logger.Error(c, problem, svcErr, zap.String("path", c.FullPath()))
		cause := svcErr.Message
		if svcErr.Err != nil {
			cause = svcErr.Err.Error()
		}
		_ = c.Error(apperrors.New(svcErr.StatusCode, problem+": "+cause, svcErr.Err))
		return
	}

	body := gin.H{"success": false, "message": svcErr.Message}
	if svcErr.Reasons != nil {
		logger.Warn(c, "batch partially published",
			zap.Int("processed", svcErr.Processed),
			zap.Strings("reasons", svcErr.Reasons),
		)
		body["processedCount"] = svcErr.Processed
		body["errors"] = svcErr.Reasons
	}
	c.JSON(svcErr.StatusCode, body)
}
