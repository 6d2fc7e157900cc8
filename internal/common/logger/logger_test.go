package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerWritesComponentField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routa.log")
	log, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithComponent("coordinator").Info("phase changed", zap.String("phase", "PLANNING"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"coordinator"`)
	assert.Contains(t, string(data), `"phase":"PLANNING"`)
}

func TestNewLoggerUnknownLevelFallsBack(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "chatty", Format: "json"})
	require.NoError(t, err)
	assert.True(t, log.Zap().Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Zap().Core().Enabled(zap.DebugLevel))
}

func TestDetectLogFormat(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("ROUTA_ENV", "production")
	assert.Equal(t, "json", detectLogFormat())

	t.Setenv("ROUTA_ENV", "")
	assert.Equal(t, "text", detectLogFormat())
}
