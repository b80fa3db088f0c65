package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/boardwatch/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug().Str("issue", "PROJ-1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "PROJ-1", entry["issue"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNewWithWriter_LevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "loud", Format: "json"}, &buf)

	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}
