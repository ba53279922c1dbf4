package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	logger, cleanup, err := New(Options{Level: "info", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("term processed", zap.String("term", "123"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"term processed"`)
	assert.Contains(t, string(data), `"run_id"`)
	assert.NotContains(t, string(data), "hidden")
}
