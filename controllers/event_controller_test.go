package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/Hmzcck/ECommerceEventTracker/common/errors"
	"github.com/Hmzcck/ECommerceEventTracker/controllers"
	"github.com/Hmzcck/ECommerceEventTracker/kafka"
	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/Hmzcck/ECommerceEventTracker/routes"
	"github.com/Hmzcck/ECommerceEventTracker/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mock publisher ----

type mockPublisher struct {
	published []models.ECommerceEvent
	batches   [][]models.ECommerceEvent
	err       error
	batchErr  error
}

func (m *mockPublisher) Publish(_ context.Context, event *models.ECommerceEvent) (kafka.Delivery, error) {
	m.published = append(m.published, *event)
	if m.err != nil {
		return kafka.Delivery{}, m.err
	}
	return kafka.Delivery{Partition: 2, Offset: 17}, nil
}

func (m *mockPublisher) PublishBatch(_ context.Context, events []models.ECommerceEvent) (int, error) {
	m.batches = append(m.batches, events)
	if m.batchErr != nil {
		var be *kafka.BatchPublishError
		if errors.As(m.batchErr, &be) {
			return be.Processed, m.batchErr
		}
		return 0, m.batchErr
	}
	return len(events), nil
}

// ---- helpers ----

func setupRouter(pub services.EventPublisher, development bool) *gin.Engine {
	return setupRouterBehind(pub, development, nil)
}

func setupRouterBehind(pub services.EventPublisher, development bool, trustedProxies []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r, err := routes.NewEngine(trustedProxies)
	if err != nil {
		panic(err)
	}
	r.Use(apperrors.ErrorMiddleware())

	svc := services.NewEventService(pub, services.EventServiceConfig{
		TestDataEnabled: development,
		MaxBatchSize:    100,
		MaxTestEvents:   1000,
	}, zap.NewNop())
	routes.RegisterEventRoutes(r, controllers.NewEventController(svc))
	r.GET("/health", controllers.Health("event-api"))
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:53211"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

const purchaseBody = `{"userId":"U1","sessionId":"S1","eventType":"Purchase","productId":"p9","price":129.0}`

// ---- tests ----

func TestTrack_Success(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	w, resp := postJSON(t, r, "/events/track", purchaseBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Event tracked successfully", resp["message"])
	assert.Equal(t, float64(2), resp["partition"])
	assert.Equal(t, float64(17), resp["offset"])

	require.Len(t, pub.published, 1)
	evt := pub.published[0]
	assert.Equal(t, "U1", evt.UserID)
	assert.Equal(t, models.EventTypePurchase, evt.EventType)
	assert.Equal(t, "10.0.0.1", evt.IPAddress)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestTrack_ClientTimestampAndAddressIgnored(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	body := `{"userId":"U1","sessionId":"S1","eventType":"pageview","timestamp":"2001-01-01T00:00:00Z","ipAddress":"1.2.3.4"}`
	w, _ := postJSON(t, r, "/events/track", body)
	require.Equal(t, http.StatusOK, w.Code)

	evt := pub.published[0]
	assert.Equal(t, models.EventTypePageView, evt.EventType)
	assert.Equal(t, "10.0.0.1", evt.IPAddress)
	assert.NotEqual(t, 2001, evt.Timestamp.Year())
}

func postTrackForwarded(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	body := `{"userId":"U1","sessionId":"S1","eventType":"PageView"}`
	req := httptest.NewRequest(http.MethodPost, "/events/track", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.RemoteAddr = "10.0.0.1:53211"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTrack_ForwardingHeadersIgnoredByDefault(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	w := postTrackForwarded(r, map[string]string{
		"X-Forwarded-For": "6.6.6.6",
		"X-Real-IP":       "7.7.7.7",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "10.0.0.1", pub.published[0].IPAddress)
}

func TestTrack_ForwardedForFromTrustedProxy(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouterBehind(pub, false, []string{"10.0.0.0/8"})

	w := postTrackForwarded(r, map[string]string{"X-Forwarded-For": "203.0.113.9"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "203.0.113.9", pub.published[0].IPAddress)
}

func TestTrack_InvalidBody(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	for _, body := range []string{
		`{"userId":"U1","sessionId":"S1","eventType":"Refund"}`,
		`{"userId":"U1","sessionId":"S1","eventType":3}`,
		`{"sessionId":"S1","eventType":"Purchase"}`,
		`not json`,
	} {
		w, resp := postJSON(t, r, "/events/track", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, false, resp["success"], body)
	}
	assert.Empty(t, pub.published)
}

func TestTrack_BrokerError(t *testing.T) {
	pub := &mockPublisher{err: &kafka.PublishError{Reason: "Broker: Leader Not Available"}}
	r := setupRouter(pub, false)

	w, resp := postJSON(t, r, "/events/track", purchaseBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Kafka error: Broker: Leader Not Available", resp["message"])
}

func TestTrack_UnexpectedErrorIsProblem(t *testing.T) {
	pub := &mockPublisher{err: errors.New("boom")}
	r := setupRouter(pub, false)

	w, resp := postJSON(t, r, "/events/track", purchaseBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, float64(http.StatusInternalServerError), resp["code"])
	assert.True(t, strings.HasPrefix(resp["message"].(string), "Unexpected error"))
}

func TestTrackBatch_Success(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	w, resp := postJSON(t, r, "/events/track-batch", "["+purchaseBody+","+purchaseBody+"]")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Batch of 2 events tracked", resp["message"])
	assert.Equal(t, float64(2), resp["processedCount"])
}

func TestTrackBatch_PartialFailure(t *testing.T) {
	pub := &mockPublisher{batchErr: &kafka.BatchPublishError{
		Processed: 2,
		Errors: []kafka.RecordError{{
			Index: 1,
			Err:   &kafka.PublishError{Reason: "Broker: Not Leader For Partition"},
		}},
	}}
	r := setupRouter(pub, false)

	body := "[" + purchaseBody + "," + purchaseBody + "," + purchaseBody + "]"
	w, resp := postJSON(t, r, "/events/track-batch", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Batch processing failed", resp["message"])
	assert.Equal(t, float64(2), resp["processedCount"])
	assert.Len(t, resp["errors"], 1)
}

func TestGenerateTestData_ForbiddenInProduction(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, false)

	w, resp := postJSON(t, r, "/events/generate-test-data?count=5", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.EqualValues(t, 403, resp["code"])
	assert.Equal(t, "Test data generation is only available in development", resp["message"])
	assert.Empty(t, pub.batches)
}

func TestGenerateTestData_Development(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, true)

	w, resp := postJSON(t, r, "/events/generate-test-data?count=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Generated 5 test events", resp["message"])
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 5)
}

func TestGenerateTestData_CountParameter(t *testing.T) {
	pub := &mockPublisher{}
	r := setupRouter(pub, true)

	w, resp := postJSON(t, r, "/events/generate-test-data", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Generated 100 test events", resp["message"])

	w, resp = postJSON(t, r, "/events/generate-test-data?count=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Generated 0 test events", resp["message"])

	require.Len(t, pub.batches, 2)
	assert.Len(t, pub.batches[0], services.DefaultTestEventCount)
	assert.Empty(t, pub.batches[1])
}

func TestGenerateTestData_BadCount(t *testing.T) {
	r := setupRouter(&mockPublisher{}, true)

	w, _ := postJSON(t, r, "/events/generate-test-data?count=lots", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fixedStats kafka.ConsumerStats

func (s fixedStats) Stats() kafka.ConsumerStats { return kafka.ConsumerStats(s) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", controllers.Health("event-api"))
	running := gin.New()
	running.GET("/health", controllers.IndexerHealth("event-indexer", fixedStats{State: "polling", Processed: 4}))
	stopped := gin.New()
	stopped.GET("/health", controllers.IndexerHealth("event-indexer", fixedStats{State: "stopped"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"event-api"`)

	w = httptest.NewRecorder()
	running.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":4`)

	w = httptest.NewRecorder()
	stopped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"stopped"`)
}
