package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
}

func TestNewLogger_ProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "prod", "info")
	logger.Debug("hidden")
	logger.Info("server started", "port", 8081)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "server started", line["msg"])
	assert.EqualValues(t, 8081, line["port"])
}

func TestNewLogger_DevIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "dev", "debug").Debug("schema loaded", "tables", 7)
	assert.Contains(t, buf.String(), "schema loaded")
	assert.Contains(t, buf.String(), "tables=7")
}

func TestRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rc := NewRequestContext(logger, "", "/api/ai/chat")
	require.NotEmpty(t, rc.RequestID)
	rc.SessionID = "s-1"
	rc.Error("chat failed", errors.New("boom"), slog.String(LogFieldErrorCode, "TIMEOUT"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, rc.RequestID, line[LogFieldRequestID])
	assert.Equal(t, "s-1", line[LogFieldSessionID])
	assert.Equal(t, "/api/ai/chat", line[LogFieldRoute])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "TIMEOUT", line[LogFieldErrorCode])

	ctx := WithRequestContext(context.Background(), rc)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, rc, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
