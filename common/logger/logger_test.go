package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize_TeesToWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := Initialize("production", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { Log = zap.NewNop() })

	l.Info("consumer started", zap.String("topic", "ecommerce-events"))
	_ = l.Sync()

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "consumer started", entry["msg"])
	assert.Equal(t, "ecommerce-events", entry["topic"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestRequestScopedHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Log = zap.New(core)
	t.Cleanup(func() { Log = zap.NewNop() })

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(RequestIDKey, "req-42")

	Error(c, "publish failed", errors.New("boom"))
	Warn(c, "batch partially published")
	Info(context.Background(), "no id")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, "req-42", entries[1].ContextMap()["request_id"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "unknown", entries[2].ContextMap()["request_id"])
}
