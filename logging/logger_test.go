package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/roombook/logging"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(logging.Config{Level: "debug", Output: &buf, Service: "test"})

	l.Debug().Str(logging.FieldRoom, "room-1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "room-1", entry["room_id"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(logging.Config{Level: "warn", Output: &buf})

	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestWithContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(logging.Config{Output: &buf})
	ctx := logging.ContextWithRequestID(context.Background(), "req-42")

	assert.Equal(t, "req-42", logging.RequestIDFromContext(ctx))

	enriched := logging.WithContext(ctx, l)
	enriched.Info().Msg("x")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}
