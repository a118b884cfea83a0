package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/wabridge/internal/config"
)

// resetGlobalLogger lets a test install the global logger again.
func resetGlobalLogger(t *testing.T) {
	t.Helper()
	once = sync.Once{}
	globalLogger.Store(nil)
	t.Cleanup(func() {
		once = sync.Once{}
		globalLogger.Store(nil)
	})
}

func decodeLine(t *testing.T, line []byte) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &entry), "log line should be JSON: %s", line)
	return entry
}

func TestNewSessionLogLine(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "wabridge"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	ForAccount(logger, "session", "alice").Info("Logged in", Chat("Family"))
	require.NoError(t, logger.Sync())

	entry := decodeLine(t, buf.Bytes())
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "wabridge.session", entry["logger"])
	assert.Equal(t, "Logged in", entry["msg"])
	assert.Equal(t, "alice", entry[KeyAccount])
	assert.Equal(t, "Family", entry[KeyChat])
}

func TestNewConsoleColors(t *testing.T) {
	colors := config.NewDefaultConfig().Logger.Colors
	testCases := []struct {
		level zapcore.Level
		color string
	}{
		{zapcore.DebugLevel, ansiColors[colors.Debug]},
		{zapcore.InfoLevel, ansiColors[colors.Info]},
		{zapcore.WarnLevel, ansiColors[colors.Warn]},
		{zapcore.ErrorLevel, ansiColors[colors.Error]},
	}
	for _, tc := range testCases {
		t.Run(tc.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(config.LoggerConfig{Level: "debug", Format: "console", Colors: colors}, zapcore.AddSync(&buf))
			require.NoError(t, err)

			logger.Check(tc.level, "browser closed").Write()
			require.NotEmpty(t, tc.color)
			assert.Contains(t, buf.String(), tc.color+tc.level.CapitalString()+colorReset)
		})
	}

	t.Run("uncolored level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(config.LoggerConfig{Format: "console"}, zapcore.AddSync(&buf))
		require.NoError(t, err)
		logger.Info("plain")
		assert.Contains(t, buf.String(), "INFO")
		assert.NotContains(t, buf.String(), colorReset)
	})
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "chatty"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "logger.level")

	_, err = New(config.LoggerConfig{Format: "xml"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "logger.format")
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wabridge.log")
	var console bytes.Buffer
	logger, err := New(config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "wabridge",
		LogFile:     path,
		MaxSize:     1,
	}, zapcore.AddSync(&console))
	require.NoError(t, err)

	accounts := []string{"alice", "bob"}
	for _, account := range accounts {
		ForAccount(logger, "session_manager", account).Info("Session closed")
	}
	logger.Debug("below the level")
	require.NoError(t, logger.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var seen []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry := decodeLine(t, scanner.Bytes())
		assert.Equal(t, "wabridge.session_manager", entry["logger"])
		seen = append(seen, entry[KeyAccount].(string))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, accounts, seen, "the file gets every entry as JSON, one per line")
	assert.Contains(t, console.String(), "Session closed")
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	parent := zap.New(core)

	Component(parent, "download").Debug("claimed", Account("alice"))
	ForAccount(parent, "browser_launcher", "bob").Warn("slow start")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "download", entries[0].LoggerName)
	assert.Equal(t, "alice", entries[0].ContextMap()[KeyAccount])
	assert.Equal(t, "browser_launcher", entries[1].LoggerName)
	assert.Equal(t, "bob", entries[1].ContextMap()[KeyAccount])

	assert.NotPanics(t, func() {
		ForAccount(nil, "session", "carol").Info("dropped")
	}, "a nil parent logs nowhere")
}

func TestInitializeLogger(t *testing.T) {
	t.Run("first configuration wins", func(t *testing.T) {
		resetGlobalLogger(t)
		var buf bytes.Buffer
		once.Do(func() {
			install(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, zapcore.AddSync(&buf))
		})
		InitializeLogger(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"})

		GetLogger().Info("hello")
		Sync()
		assert.Equal(t, "first", decodeLine(t, buf.Bytes())["logger"])
	})

	t.Run("invalid configuration falls back to info json", func(t *testing.T) {
		resetGlobalLogger(t)
		var buf bytes.Buffer
		once.Do(func() {
			install(config.LoggerConfig{Level: "chatty", Format: "console", ServiceName: "wabridge"}, zapcore.AddSync(&buf))
		})

		GetLogger().Debug("hidden")
		GetLogger().Info("visible")
		Sync()

		entry := decodeLine(t, buf.Bytes())
		assert.Equal(t, "visible", entry["msg"])
		assert.Equal(t, "wabridge", entry["logger"])
	})
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	resetGlobalLogger(t)
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Nil(t, globalLogger.Load(), "the fallback is not installed globally")
}
