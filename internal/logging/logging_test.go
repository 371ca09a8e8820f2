package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "orders-saga", "warn")

	// Act
	logger.Info().Msg("hidden")
	logger.Warn().Str("saga_id", "saga-1").Msg("visible")

	// Assert
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "orders-saga", entry["service"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "saga-1", entry["saga_id"])
	assert.Equal(t, "visible", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "orders-saga", "verbose")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
