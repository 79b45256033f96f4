// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		config := &LoggerConfig{
			Level:  LevelInfo,
			Format: FormatJSON,
		}
		err := config.Validate()
		assert.NoError(t, err)
	})

	t.Run("rejects invalid level", func(t *testing.T) {
		config := &LoggerConfig{Level: "invalid"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "level")
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		config := &LoggerConfig{Format: "logfmt"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "format")
	})

	t.Run("applies defaults", func(t *testing.T) {
		config := &LoggerConfig{}
		config.ApplyDefaults()
		assert.Equal(t, LevelInfo, config.Level)
		assert.Equal(t, FormatJSON, config.Format)
		assert.NotNil(t, config.Output)
	})
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Level: LevelInfo, Output: &buf})
	require.NoError(t, err)

	logger.Info("failover completed", zap.String("to", "us-west"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "failover completed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "us-west", entry["to"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)

	t.Run("filters below threshold", func(t *testing.T) {
		buf.Reset()
		logger.Debug("should not appear")
		logger.Info("should not appear")
		assert.Empty(t, buf.String())
	})

	t.Run("logs at and above threshold", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warning")
		logger.Error("error")
		assert.Contains(t, buf.String(), "warning")
		assert.Contains(t, buf.String(), "error")
	})
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Info("test message")
	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "test message")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
