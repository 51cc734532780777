package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decode(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		assert.NotZero(t, buf.Len())
		buf.Reset()
		logger.Error("error message")
		assert.Equal(t, "error", decode(t, &buf)["level"])
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("key", "value").WithFields(map[string]interface{}{"count": 42}).Info("message")
	entry := decode(t, &buf)
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, float64(42), entry["count"])

	buf.Reset()
	logger.WithError(errors.New("boom")).Error("something went wrong")
	assert.Equal(t, "boom", decode(t, &buf)["error"])

	assert.Same(t, logger, logger.WithError(nil))
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Debugf("test %s %d", "string", 42)
	assert.Equal(t, "test string 42", decode(t, &buf)["msg"])

	buf.Reset()
	logger.Warnf("warning %s", "test")
	assert.Equal(t, "warning test", decode(t, &buf)["msg"])
}

func TestContextHelpers(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithUserID(ctx, "42")
	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Equal(t, "42", GetUserID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))

	assert.NotNil(t, GetLogger(context.Background()), "falls back to the standard logger")

	var buf bytes.Buffer
	ctx = WithLogger(ctx, NewLogger(InfoLevel, &buf))
	FromContext(ctx).Info("test message")

	entry := decode(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "42", entry["user_id"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"WARNING": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
		assert.NotEmpty(t, want.String())
	}
}
